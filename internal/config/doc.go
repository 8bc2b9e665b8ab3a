// Package config loads the console configuration from a JSON or YAML file with
// DRAAS_* environment overrides, and fills defaults for the scheduler client,
// chain access, polling cadence and the optional journal and event backends.
package config
