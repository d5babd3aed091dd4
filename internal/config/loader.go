package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arcrouter/control-plane/pkg/models"
)

// LoadPolicyDocument reads a policy document from path, decoding as YAML
// when the extension is .yaml/.yml and JSON otherwise — the file-or-YAML
// convention used throughout the pack for config documents.
func LoadPolicyDocument(path string) (models.PolicyDocument, error) {
	var doc models.PolicyDocument
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("config: read policy %q: %w", path, err)
	}
	if err := decode(path, raw, &doc); err != nil {
		return doc, fmt.Errorf("config: parse policy %q: %w", path, err)
	}
	return doc, nil
}

// LoadCatalogDocument reads a catalog document from path, same
// file-or-YAML convention as LoadPolicyDocument.
func LoadCatalogDocument(path string) (models.CatalogDocument, error) {
	var doc models.CatalogDocument
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("config: read catalog %q: %w", path, err)
	}
	if err := decode(path, raw, &doc); err != nil {
		return doc, fmt.Errorf("config: parse catalog %q: %w", path, err)
	}
	return doc, nil
}

func decode(path string, raw []byte, v any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		// yaml.v3 ignores the models' json tags, so the document is decoded
		// generically and passed through encoding/json to apply them.
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return err
		}
		bridged, err := json.Marshal(generic)
		if err != nil {
			return err
		}
		return json.Unmarshal(bridged, v)
	default:
		return yamlAsJSONFallback(raw, v)
	}
}

// yamlAsJSONFallback decodes every non-YAML file as JSON with
// encoding/json, so the models' json tags (snake_case keys) apply.
func yamlAsJSONFallback(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}
