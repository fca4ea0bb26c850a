package seed

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

var templateVariable = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Loader handles loading and parsing of the seed file
type Loader struct {
	filePath string
}

// NewLoader creates a new seed file loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the seed file
func (l *Loader) Load() (File, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return File{}, fmt.Errorf("failed to read seed file: %w", err)
	}

	data = expandTemplateVariables(data)

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return File{}, fmt.Errorf("failed to parse seed yaml: %w", err)
	}
	return file, nil
}

// expandTemplateVariables replaces {{NAME}} with the environment variable
// NAME, or with nothing when it is unset.
// Example: url: https://{{PASTE_HOST}}/ -> url: https://paste.example.org/
func expandTemplateVariables(data []byte) []byte {
	return templateVariable.ReplaceAllFunc(data, func(m []byte) []byte {
		name := templateVariable.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}
