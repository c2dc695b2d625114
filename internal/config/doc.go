// Package config loads the wsclient YAML configuration.
//
// Values of the form ${VAR} are expanded from the environment before parsing.
// LoadAndValidate is the usual entry point: it applies defaults for optional
// fields and then checks required ones.
package config
