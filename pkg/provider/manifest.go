package provider

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/sir-Unknown/cityvisitorparking/pkg/models"
)

const (
	manifestFilename = "manifest.json"
	schemaFilename   = "manifest.schema.json"
)

//go:embed manifest.schema.json */manifest.json
var manifestFS embed.FS

// ManifestFS exposes the embedded manifests, mostly so tests and the
// default loader share one source of truth.
func ManifestFS() fs.FS {
	return manifestFS
}

// Manifest is the declarative record describing one provider. Discovery
// reads these files without touching the provider's executable code.
type Manifest struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Capabilities Capabilities `json:"capabilities"`
}

type Capabilities struct {
	FavoriteUpdateFields    []string `json:"favorite_update_fields"`
	ReservationUpdateFields []string `json:"reservation_update_fields"`
}

// Info converts the manifest into the public ProviderInfo model.
func (m Manifest) Info() models.ProviderInfo {
	return models.ProviderInfo{
		ID:                      m.ID,
		Name:                    m.Name,
		FavoriteUpdateFields:    append([]string(nil), m.Capabilities.FavoriteUpdateFields...),
		ReservationUpdateFields: append([]string(nil), m.Capabilities.ReservationUpdateFields...),
	}
}

// SupportsFavoriteUpdate reports whether the provider updates favorites
// natively. An empty field list means unsupported.
func (m Manifest) SupportsFavoriteUpdate() bool {
	return len(m.Capabilities.FavoriteUpdateFields) > 0
}

func (m Manifest) SupportsReservationUpdate() bool {
	return len(m.Capabilities.ReservationUpdateFields) > 0
}

// AllowsFavoriteField reports whether a native favorite update may change
// the named field.
func (m Manifest) AllowsFavoriteField(field string) bool {
	return containsField(m.Capabilities.FavoriteUpdateFields, field)
}

func (m Manifest) AllowsReservationField(field string) bool {
	return containsField(m.Capabilities.ReservationUpdateFields, field)
}

func containsField(fields []string, field string) bool {
	for _, f := range fields {
		if f == field {
			return true
		}
	}
	return false
}

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func manifestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := manifestFS.ReadFile(schemaFilename)
		if err != nil {
			schemaErr = fmt.Errorf("read manifest schema: %w", err)
			return
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			schemaErr = fmt.Errorf("decode manifest schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaFilename, doc); err != nil {
			schemaErr = fmt.Errorf("register manifest schema: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaFilename)
	})
	return schema, schemaErr
}

// parseManifest validates raw manifest bytes against the JSON schema plus
// the semantic rules the schema cannot express, then decodes them.
func parseManifest(raw []byte, dir string) (Manifest, error) {
	sch, err := manifestSchema()
	if err != nil {
		return Manifest{}, err
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if err := sch.Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("manifest schema validation: %w", err)
	}

	var m Manifest
	if err := unmarshalStrict(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}

	if m.ID != path.Base(dir) {
		return Manifest{}, fmt.Errorf("manifest id %q does not match directory %q", m.ID, dir)
	}
	if strings.TrimSpace(m.Name) == "" {
		return Manifest{}, fmt.Errorf("manifest name must not be blank")
	}

	return m, nil
}
