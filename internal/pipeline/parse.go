package pipeline

import (
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/aqueducts/aqueducts/internal/aqerrors"
	"github.com/aqueducts/aqueducts/internal/template"
)

// Format is the document encoding of a pipeline file.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSONDoc Format = "json"
	FormatTOML Format = "toml"
)

// DetectFormat infers the document format from a file extension.
func DetectFormat(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSONDoc, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", aqerrors.Newf(aqerrors.Config, "detect-format", "cannot infer pipeline format from %q", path)
	}
}

// Parse renders templates into raw, then unmarshals it per format and
// validates the resulting Pipeline's invariants.
func Parse(raw string, format Format, vars map[string]string) (*Pipeline, error) {
	rendered, err := template.Render(raw, vars)
	if err != nil {
		return nil, err
	}

	var p Pipeline
	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal([]byte(rendered), &p); err != nil {
			return nil, aqerrors.New(aqerrors.Config, "parse-yaml", err)
		}
	case FormatJSONDoc:
		if err := json.Unmarshal([]byte(rendered), &p); err != nil {
			return nil, aqerrors.New(aqerrors.Config, "parse-json", err)
		}
	case FormatTOML:
		if _, err := toml.Decode(rendered, &p); err != nil {
			return nil, aqerrors.New(aqerrors.Config, "parse-toml", err)
		}
	default:
		return nil, aqerrors.Newf(aqerrors.Config, "parse", "unsupported pipeline format %q", format)
	}

	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ParseFile detects the format from path's extension and parses its
// contents.
func ParseFile(path string, contents []byte, vars map[string]string) (*Pipeline, error) {
	format, err := DetectFormat(path)
	if err != nil {
		return nil, err
	}
	return Parse(string(contents), format, vars)
}
