// Package config loads the settings of a vtrace process from defaults, an
// optional YAML file and command-line flags.
package config
