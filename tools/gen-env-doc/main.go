//go:build ignore
// +build ignore

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ArkLabsHQ/boltz-swap/internal/config"
)

const out = "../../docs/environment.md"

func main() {
	var b strings.Builder
	b.WriteString("# Environment Variables\n\n")
	b.WriteString("Generated from `config.EnvSpecs()`. **Do not edit manually.**\n\n")
	b.WriteString("Endpoints left empty default to the ones of `BOLTZ_NETWORK`.\n\n")
	b.WriteString("| Variable | Default | Type | Description |\n")
	b.WriteString("|----------|---------|------|-------------|\n")

	for _, s := range config.EnvSpecs() {
		def := s.Default
		if def == "" {
			def = "-"
		}
		desc := s.Description
		if s.Notes != "" {
			desc += "<br/><em>" + s.Notes + "</em>"
		}
		fmt.Fprintf(&b, "| `%s` | `%s` | `%s` | %s |\n", s.FullName, def, s.Type, desc)
	}

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := os.WriteFile(out, []byte(b.String()), 0o644); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
