// Package database opens the PostgreSQL pool used by the health reading
// writer and creates its table.
package database
