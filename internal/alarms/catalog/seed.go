package catalog

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	alarms "frostguard/internal/alarms/domain"
)

//go:embed definitions.yaml
var builtinDefinitions []byte

// definitionNamespace derives stable definition ids from slugs.
var definitionNamespace = uuid.MustParse("6f1c1f0e-4b7a-4f7e-9a53-2d0f6c1e8b11")

type seedFile struct {
	Definitions []alarms.Definition `yaml:"definitions"`
}

// LoadSeed reads catalog definitions from path, or the built-in catalog when path is empty.
func LoadSeed(path string) ([]alarms.Definition, error) {
	data := builtinDefinitions
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("catalog: read seed %s: %w", path, err)
		}
		data = raw
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates a catalog document.
func ParseSeed(data []byte) ([]alarms.Definition, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: parse seed: %w", err)
	}
	seen := make(map[string]struct{}, len(file.Definitions))
	for i := range file.Definitions {
		def := &file.Definitions[i]
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("catalog: definition %d (%s): %w", i, def.Slug, err)
		}
		if _, dup := seen[def.Slug]; dup {
			return nil, fmt.Errorf("catalog: duplicate slug %s", def.Slug)
		}
		seen[def.Slug] = struct{}{}
		if def.ID == "" {
			def.ID = DefinitionID(def.Slug)
		}
	}
	return file.Definitions, nil
}

// DefinitionID returns the stable id for a slug.
func DefinitionID(slug string) string {
	return uuid.NewSHA1(definitionNamespace, []byte(slug)).String()
}

// Seed upserts definitions into the repository and invalidates the cache.
func (c *Catalog) Seed(ctx context.Context, defs []alarms.Definition) error {
	var errs []error
	for i := range defs {
		def := defs[i]
		if err := c.definitions.Upsert(ctx, &def); err != nil {
			errs = append(errs, fmt.Errorf("seed %s: %w", def.Slug, err))
		}
	}
	c.Invalidate()
	return errors.Join(errs...)
}
