// Package health forwards health_update readings (pain, anxiety, ...) to
// wherever they are tracked.
//
// Readings never reach other viewers. Sinks:
//   - LogSink: structured log line per reading
//   - MQTTSink: publishes each reading to a broker topic
//   - PostgresWriter: batched inserts into the health_readings table
package health
