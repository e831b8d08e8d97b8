package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LoadYAML reads a catalog dump from a YAML file.
func LoadYAML(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	c := &Catalog{}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return c, nil
}

// WriteYAML writes the catalog to a YAML file at the given path.
func (c *Catalog) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling catalog: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Summary returns a human-readable summary of the catalog.
func (c *Catalog) Summary() string {
	var totalRows int64
	var totalCols int
	var totalFKs int

	for _, t := range c.Tables {
		totalRows += t.RowCount
		totalCols += len(t.Columns)
		totalFKs += len(t.ForeignKeys)
	}

	return fmt.Sprintf(
		"Found %d tables in %d schemas, %d columns, %d foreign keys\nTotal rows: %d",
		len(c.Tables), len(c.Schemas()), totalCols, totalFKs, totalRows,
	)
}
