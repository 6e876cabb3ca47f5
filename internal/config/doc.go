// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Every value consumed by the pipeline lives here; components receive the
// pieces they need through their constructors.
package config
