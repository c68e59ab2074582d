package manifest

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/github/go-spdx/v2/spdxexp"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/logging"
	"github.com/sapientcoffee/gemini-cli-extensions-catalog/core/infra/schema"
)

var (
	// ErrInvalidJSON means the manifest text does not parse.
	ErrInvalidJSON = errors.New("manifest is not valid json")
	// ErrMissingFields means name or description is absent or empty.
	ErrMissingFields = errors.New("manifest missing required fields")
)

// DefaultVersion is recorded when the manifest carries no version.
const DefaultVersion = "0.0.1"

// RequiredFields are the manifest fields the registry relies on.
var RequiredFields = []string{"name", "description"}

var requiredSchema = schema.MustCompile("gemini-extension", []byte(`{
  "type": "object",
  "required": ["name", "description"],
  "properties": {
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string", "minLength": 1}
  }
}`))

// Manifest is the validated subset of a gemini-extension.json document.
type Manifest struct {
	Name        string
	Description string
	Version     string
	ImageURL    string
	License     string
	// SemVer reports whether Version parses as a semantic version.
	SemVer bool
}

// Validate parses text and checks the required fields. Optional fields of the
// wrong type are treated as absent.
func Validate(text, defaultVersion string) (*Manifest, error) {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, ErrInvalidJSON
	}
	if err := requiredSchema.Validate(doc); err != nil {
		return nil, ErrMissingFields
	}
	obj := doc.(map[string]any)

	if strings.TrimSpace(defaultVersion) == "" {
		defaultVersion = DefaultVersion
	}
	m := &Manifest{
		Name:        obj["name"].(string),
		Description: obj["description"].(string),
		Version:     versionField(obj["version"]),
		ImageURL:    stringField(obj, "imageUrl"),
	}
	if m.Version == "" {
		m.Version = defaultVersion
	}
	if _, err := semver.NewVersion(m.Version); err == nil {
		m.SemVer = true
	}
	if lic := stringField(obj, "license"); lic != "" {
		if ok, invalid := spdxexp.ValidateLicenses([]string{lic}); ok {
			m.License = lic
		} else {
			logging.Info("validator", "dropping unrecognised license", "license", lic, "invalid", strings.Join(invalid, ","))
		}
	}
	return m, nil
}

// versionField keeps any truthy scalar, so `1.2` becomes "1.2". Zero, false,
// objects and arrays count as absent.
func versionField(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == 0 {
			return ""
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		if t {
			return "true"
		}
	}
	return ""
}

func stringField(obj map[string]any, key string) string {
	v, ok := obj[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(v)
}
