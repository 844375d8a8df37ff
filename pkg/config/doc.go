// Package config loads the relay configuration for notifymail from an optional
// YAML file, environment variables and secret sources (env, file, OS keyring).
// Credentials are never part of the binary.
package config
