// Package config loads the code index configuration.
//
// Persisted settings come from a YAML file and CODEINDEX_* environment
// variables through viper. Credentials are resolved separately through a
// SecretStore so they never land in the settings file. Manager combines
// both into an immutable Config and classifies each reload with
// RequiresRestart, which decides whether running services must be rebuilt.
package config
