// Package configs provides the embedded configuration templates written by
// `kbsearch init`.
//
// Templates are embedded at build time so that every distribution carries
// them. Keys and defaults must stay in step with internal/config NewConfig.
package configs

import _ "embed"

// YAMLTemplate is written to kbsearch.yaml by `kbsearch init`.
//
//go:embed kbsearch.example.yaml
var YAMLTemplate string

// TOMLTemplate is written by `kbsearch init --format toml`.
//
//go:embed kbsearch.example.toml
var TOMLTemplate string

// Template returns the template for format ("yaml" or "toml").
func Template(format string) (string, bool) {
	switch format {
	case "", "yaml", "yml":
		return YAMLTemplate, true
	case "toml":
		return TOMLTemplate, true
	default:
		return "", false
	}
}
