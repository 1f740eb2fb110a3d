package engine

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Commands defines shell commands the engine runs for each project operation. Every command is a
// text/template executed in the project directory; see TemplateData for available fields.
type Commands struct {
	MinFreeMB uint64         `yaml:"min_free_mb" json:"min_free_mb,omitempty" jsonschema:"description=minimal free space on project filesystem before a build in MB"`
	LogLines  int            `yaml:"log_lines" json:"log_lines,omitempty" jsonschema:"description=last output lines attached to a failed command error,default=20"`
	Build     string         `yaml:"build" json:"build" jsonschema:"required,description=builds the project"`
	AptUpdate string         `yaml:"apt_update" json:"apt_update,omitempty" jsonschema:"description=updates package cache of a built project"`
	AptCommit string         `yaml:"apt_commit" json:"apt_commit,omitempty" jsonschema:"description=applies pending package changes listed in .Changes"`
	GenUpdate string         `yaml:"gen_update" json:"gen_update,omitempty" jsonschema:"description=generates update package .Target from .BaseXML"`
	Save      string         `yaml:"save_archive" json:"save_archive,omitempty" jsonschema:"description=saves package archive of the version into .Archive"`
	Checkout  string         `yaml:"checkout_archive" json:"checkout_archive,omitempty" jsonschema:"description=restores package archive from .Archive"`
	Artifacts []ArtifactSpec `yaml:"artifacts" json:"artifacts,omitempty" jsonschema:"description=build products registered as project files"`
}

// ArtifactSpec matches build products by glob relative to the project directory
type ArtifactSpec struct {
	Glob        string `yaml:"glob" json:"glob" jsonschema:"required"`
	MimeType    string `yaml:"mime_type" json:"mime_type,omitempty" jsonschema:"default=application/octet-stream"`
	Description string `yaml:"description" json:"description,omitempty"`
}

const defaultLogLines = 20

// LoadCommands reads and validates commands from yaml file
func LoadCommands(path string) (*Commands, error) {
	data, err := os.ReadFile(path) //nolint:gosec // config file path from options
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config %s: %w", path, err)
	}
	return ParseCommands(data)
}

// ParseCommands decodes and validates yaml commands, unknown fields are rejected
func ParseCommands(data []byte) (*Commands, error) {
	var res Commands
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to parse engine config: %w", err)
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

// Validate checks commands for required fields and template syntax
func (c *Commands) Validate() error {
	if c.Build == "" {
		return errors.New("engine config: build command is required")
	}
	if c.LogLines < 0 {
		return errors.New("engine config: log_lines must not be negative")
	}
	for name, cmd := range c.byOp() {
		if cmd == "" {
			continue
		}
		if _, err := parseTemplate(name, cmd); err != nil {
			return fmt.Errorf("engine config: %s: %w", name, err)
		}
	}
	for i, a := range c.Artifacts {
		if a.Glob == "" {
			return fmt.Errorf("engine config: artifact %d: glob is required", i+1)
		}
		if _, err := filepath.Match(a.Glob, ""); err != nil {
			return fmt.Errorf("engine config: artifact %d: bad glob %q: %w", i+1, a.Glob, err)
		}
		if !filepath.IsLocal(a.Glob) {
			return fmt.Errorf("engine config: artifact %d: glob %q must be relative to project", i+1, a.Glob)
		}
	}
	return nil
}

func (c *Commands) byOp() map[string]string {
	return map[string]string{
		opBuild: c.Build, opAptUpdate: c.AptUpdate, opAptCommit: c.AptCommit,
		opGenUpdate: c.GenUpdate, opSave: c.Save, opCheckout: c.Checkout,
	}
}

func (c *Commands) logLines() int {
	if c.LogLines == 0 {
		return defaultLogLines
	}
	return c.LogLines
}

// Schema generates JSON schema for the commands file
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Commands{})
}
