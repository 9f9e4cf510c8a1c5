// Package config loads relay and bridge configuration from YAML.
//
// ${VAR} references are expanded from the environment before parsing.
// LoadAndValidate is the usual entry point: it applies defaults for every
// optional field and then checks the result.
package config
