package services

import (
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/yeoskin/backend/internal/models"
)

// Inbound webhook payload kinds.
const (
	PayloadOrderCompleted = "order_completed"
	PayloadOrderCanceled  = "order_canceled"
	PayloadPayoutCallback = "payout_callback"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// Validator checks webhook payloads against their JSON Schemas before anything is written.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas. File names are <kind>.v1.json.
func NewValidator() (*Validator, error) {
	return newValidatorFS(schemaFS, "schemas")
}

func newValidatorFS(fsys fs.FS, dir string) (*Validator, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read schema dir %q: %w", dir, err)
	}
	schemas := make(map[string]*jsonschema.Schema)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		kind := strings.TrimSuffix(strings.TrimSuffix(e.Name(), ".json"), ".v1")
		p := path.Join(dir, e.Name())
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", p, err)
		}
		c := jsonschema.NewCompiler()
		c.AssertFormat = true
		id := "https://yeoskin.dev/schemas/" + kind + ".json"
		if err := c.AddResource(id, strings.NewReader(string(data))); err != nil {
			return nil, fmt.Errorf("add schema %q: %w", kind, err)
		}
		schemas[kind], err = c.Compile(id)
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", kind, err)
		}
	}
	return &Validator{schemas: schemas}, nil
}

// Validate rejects body unless it is JSON matching the schema of kind.
func (v *Validator) Validate(kind string, body []byte) error {
	schema, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("unknown payload kind %q", kind)
	}
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return models.Invalid("invalid JSON: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return models.Invalid("%v", err)
	}
	return nil
}
