// Package discovery locates collector plugins on disk. A plugin is any
// directory whose package.json carries a junctionrelay block with
// type "collector".
package discovery

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
)

// DefaultEntry is the entry artifact assumed when neither the manifest nor
// the package declares one.
const DefaultEntry = "index.ts"

// Manifest is the raw junctionrelay block of a plugin's package.json.
type Manifest struct {
	Type  string `json:"type"`
	Entry string `json:"entry,omitempty"`
}

// Plugin is a launch descriptor for one discovered plugin.
type Plugin struct {
	Name     string
	Version  string
	Path     string // absolute plugin root
	Entry    string // runnable artifact, relative to Path
	Manifest Manifest
}

// packageJSON is the subset of a plugin manifest file the scanner reads.
type packageJSON struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	Main          string    `json:"main"`
	JunctionRelay *Manifest `json:"junctionrelay"`
}

// manifestSchema validates the junctionrelay block shape. Anything that does
// not validate is silently skipped, same as a missing block.
const manifestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["junctionrelay"],
  "properties": {
    "junctionrelay": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": { "type": "string", "const": "collector" },
        "entry": { "type": "string", "minLength": 1 }
      }
    }
  }
}`

// Scanner performs one-shot directory scans for collector plugins.
type Scanner struct {
	logger zerolog.Logger
	schema gojsonschema.JSONLoader
}

// NewScanner creates a plugin scanner.
func NewScanner(logger zerolog.Logger) *Scanner {
	return &Scanner{
		logger: logger.With().Str("component", "plugin-discovery").Logger(),
		schema: gojsonschema.NewStringLoader(manifestSchema),
	}
}

// Scan probes the three plugin locations under root and returns a descriptor
// for every valid collector plugin. Missing or non-directory roots yield an
// empty list, never an error. Descriptor paths are absolute even when root
// is relative.
func (s *Scanner) Scan(root string) []Plugin {
	if abs, err := filepath.Abs(root); err == nil {
		root = abs
	}

	var plugins []Plugin

	for _, dir := range subdirectories(root) {
		if p, ok := s.probe(dir); ok {
			plugins = append(plugins, p)
		}
	}

	scoped := filepath.Join(root, "node_modules", "@junctionrelay")
	for _, dir := range subdirectories(scoped) {
		if strings.HasPrefix(filepath.Base(dir), "plugin-") {
			if p, ok := s.probe(dir); ok {
				plugins = append(plugins, p)
			}
		}
	}

	modules := filepath.Join(root, "node_modules")
	for _, dir := range subdirectories(modules) {
		if strings.HasPrefix(filepath.Base(dir), "junctionrelay-plugin-") {
			if p, ok := s.probe(dir); ok {
				plugins = append(plugins, p)
			}
		}
	}

	s.logger.Info().Int("count", len(plugins)).Str("root", root).Msg("plugin discovery completed")
	return plugins
}

// probe inspects one candidate directory. All failure modes are a silent
// skip: the scan reports only what it can positively identify.
func (s *Scanner) probe(dir string) (Plugin, bool) {
	manifestPath := filepath.Join(dir, "package.json")
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		s.logger.Debug().Str("dir", dir).Msg("no readable package.json, skipping")
		return Plugin{}, false
	}

	var pkg packageJSON
	if err := json.Unmarshal(data, &pkg); err != nil {
		s.logger.Debug().Err(err).Str("dir", dir).Msg("unparseable package.json, skipping")
		return Plugin{}, false
	}
	if pkg.JunctionRelay == nil || pkg.JunctionRelay.Type != "collector" {
		s.logger.Debug().Str("dir", dir).Msg("no collector manifest block, skipping")
		return Plugin{}, false
	}

	result, err := gojsonschema.Validate(s.schema, gojsonschema.NewBytesLoader(data))
	if err != nil || !result.Valid() {
		s.logger.Debug().Str("dir", dir).Msg("manifest block failed schema validation, skipping")
		return Plugin{}, false
	}

	name := pkg.Name
	if name == "" {
		name = filepath.Base(dir)
	}
	version := pkg.Version
	if version == "" {
		version = "0.0.0"
	}
	entry := pkg.JunctionRelay.Entry
	if entry == "" {
		entry = pkg.Main
	}
	if entry == "" {
		entry = DefaultEntry
	}

	p := Plugin{
		Name:     name,
		Version:  version,
		Path:     dir,
		Entry:    entry,
		Manifest: *pkg.JunctionRelay,
	}
	s.logger.Debug().Str("name", p.Name).Str("path", p.Path).Str("entry", p.Entry).Msg("discovered plugin")
	return p, true
}

// subdirectories lists the immediate subdirectories of dir, tolerating
// missing or non-directory inputs.
func subdirectories(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, filepath.Join(dir, entry.Name()))
		}
	}
	return dirs
}
