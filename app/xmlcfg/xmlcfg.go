// Package xmlcfg reads project configuration documents. Only the fields the lifecycle
// manager needs are interpreted: project name and version. Everything else in the document
// is kept as raw bytes and passed through untouched.
package xmlcfg

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
	"unicode"
)

// RootElement is the expected local name of the document root
const RootElement = "RootFileSystem"

// Document is a parsed configuration document
type Document struct {
	Raw         []byte
	Root        string
	Name        string
	Version     string
	Description string
	hasProject  bool
}

// ValidationError lists all problems found in a document
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

type rawDocument struct {
	XMLName xml.Name
	Project *struct {
		Name        string `xml:"name"`
		Version     string `xml:"version"`
		Description string `xml:"description"`
	} `xml:"project"`
}

// Parse decodes the document. It fails only on malformed xml, use Validate for content checks.
func Parse(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &ValidationError{Problems: []string{"empty document"}}
	}
	var raw rawDocument
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Problems: []string{fmt.Sprintf("malformed xml: %v", err)}}
	}
	doc := &Document{Raw: data, Root: raw.XMLName.Local}
	if raw.Project != nil {
		doc.hasProject = true
		doc.Name = strings.TrimSpace(raw.Project.Name)
		doc.Version = strings.TrimSpace(raw.Project.Version)
		doc.Description = strings.TrimSpace(raw.Project.Description)
	}
	return doc, nil
}

// Load reads and parses the document from file
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the project directory
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks the parts of the document the lifecycle manager relies on
func (d *Document) Validate() error {
	var problems []string
	if d.Root != RootElement {
		problems = append(problems, fmt.Sprintf("root element is %q, expected %q", d.Root, RootElement))
	}
	if !d.hasProject {
		problems = append(problems, "missing project element")
	}
	if d.hasProject && d.Name == "" {
		problems = append(problems, "missing project/name")
	}
	if d.hasProject && d.Version == "" {
		problems = append(problems, "missing project/version")
	}
	if strings.IndexFunc(d.Name, unicode.IsControl) >= 0 {
		problems = append(problems, "project/name contains control characters")
	}
	if strings.IndexFunc(d.Version, unicode.IsControl) >= 0 || strings.ContainsAny(d.Version, " \t") {
		problems = append(problems, "project/version contains whitespace or control characters")
	}
	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}

// Check parses and validates data, returning project name and version
func Check(data []byte) (name, version string, err error) {
	doc, err := Parse(data)
	if err != nil {
		return "", "", err
	}
	if err := doc.Validate(); err != nil {
		return "", "", err
	}
	return doc.Name, doc.Version, nil
}

// IsValidationError reports whether err is (or wraps) a ValidationError
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
