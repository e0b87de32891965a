// Package config provides configuration loading and validation for the kiri
// voice-to-text engine. It handles YAML-based configuration on top of
// built-in defaults, with per-section validation.
package config
