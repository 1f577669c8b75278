// Package seed loads an initial set of databases, tables, and rows from a
// YAML document and applies them to a catalog/engine pair at startup, via
// gopkg.in/yaml.v3.
package seed

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/butterflydb/butterflydb/internal/storage"
)

// Column describes one seeded column.
type Column struct {
	Name         string `yaml:"name"`
	Type         string `yaml:"type"`
	Nullable     bool   `yaml:"nullable"`
	IsPrimaryKey bool   `yaml:"primary_key"`
}

// Table describes one seeded table: its shape plus any initial rows.
type Table struct {
	Name    string           `yaml:"name"`
	Columns []Column         `yaml:"columns"`
	Rows    []map[string]any `yaml:"rows"`
}

// Database describes one seeded database and its tables.
type Database struct {
	Name   string  `yaml:"name"`
	Tables []Table `yaml:"tables"`
}

// Document is the top-level seed file shape.
type Document struct {
	Databases []Database `yaml:"databases"`
}

// Load parses a seed document from path.
func Load(path string) (Document, error) {
	var doc Document
	buf, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("seed: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(buf, &doc); err != nil {
		return doc, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return doc, nil
}

// Apply creates every database/table/row in doc against cat and eng,
// skipping databases and tables that already exist so a seed file can be
// reapplied against a running instance without erroring.
func Apply(cat *storage.Catalog, eng *storage.Engine, doc Document) error {
	for _, db := range doc.Databases {
		if err := cat.CreateDatabase(db.Name, true); err != nil {
			return fmt.Errorf("seed: create database %s: %w", db.Name, err)
		}
		if err := cat.UseDatabase(db.Name); err != nil {
			return fmt.Errorf("seed: use database %s: %w", db.Name, err)
		}
		for _, tbl := range db.Tables {
			if err := applyTable(cat, eng, tbl); err != nil {
				return fmt.Errorf("seed: table %s.%s: %w", db.Name, tbl.Name, err)
			}
		}
	}
	return nil
}

func applyTable(cat *storage.Catalog, eng *storage.Engine, tbl Table) error {
	columns := make([]storage.ColumnSchema, len(tbl.Columns))
	for i, c := range tbl.Columns {
		columns[i] = storage.ColumnSchema{
			Name:         c.Name,
			DataType:     c.Type,
			Nullable:     c.Nullable,
			IsPrimaryKey: c.IsPrimaryKey,
		}
	}
	if err := cat.CreateTable(tbl.Name, columns, true); err != nil {
		return err
	}
	if err := eng.CreateTable(tbl.Name); err != nil {
		return err
	}
	for _, row := range tbl.Rows {
		storageRow := make(storage.Row, len(row))
		for k, v := range row {
			storageRow[k] = valueFromYAML(v)
		}
		if _, err := eng.Insert(tbl.Name, storageRow); err != nil {
			return err
		}
	}
	return nil
}

// valueFromYAML converts a yaml.v3-decoded scalar (string, int, float64,
// bool, or nil) into a storage.Value.
func valueFromYAML(v any) storage.Value {
	switch x := v.(type) {
	case nil:
		return storage.NullValue()
	case bool:
		return storage.BoolValue(x)
	case string:
		return storage.TextValue(x)
	case int:
		return storage.IntValue(int64(x))
	case int64:
		return storage.IntValue(x)
	case float64:
		return storage.FloatValue(x)
	default:
		return storage.TextValue(fmt.Sprintf("%v", x))
	}
}
