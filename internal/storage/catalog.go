// Package storage provides persistence primitives for ButterflyDB: the
// document catalog (this file) and the row-oriented storage engine
// (db.go / concurrency.go).
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ColumnSchema describes one column of a table.
type ColumnSchema struct {
	Name         string `json:"name"`
	DataType     string `json:"data_type"`
	Nullable     bool   `json:"nullable"`
	IsPrimaryKey bool   `json:"is_primary_key"`
}

// TableSchema describes one table's shape.
type TableSchema struct {
	Name      string         `json:"name"`
	Columns   []ColumnSchema `json:"columns"`
	CreatedAt string         `json:"created_at"`
}

// NewTableSchema stamps created_at with the current time, RFC3339.
func NewTableSchema(name string, columns []ColumnSchema) TableSchema {
	return TableSchema{Name: name, Columns: columns, CreatedAt: time.Now().Format(time.RFC3339)}
}

// ColumnNames returns the schema's columns in declaration order.
func (s TableSchema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// GetColumn looks up a column by name.
func (s TableSchema) GetColumn(name string) (ColumnSchema, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSchema{}, false
}

// DatabaseSchema holds every table defined in one database.
type DatabaseSchema struct {
	Name   string                 `json:"name"`
	Tables map[string]TableSchema `json:"tables"`
}

// CatalogData is the whole persisted document.
type CatalogData struct {
	Databases       map[string]DatabaseSchema `json:"databases"`
	CurrentDatabase *string                   `json:"current_database"`
}

// Catalog is process-wide shared state: one writer lock, persisted to disk
// on every successful mutation.
type Catalog struct {
	mu          sync.RWMutex
	data        CatalogData
	storagePath string
}

// DefaultCatalogPath returns $HOME/.butterfly_db/catalog.json, creating the
// directory if necessary.
func DefaultCatalogPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("catalog: resolve home dir: %w", err)
	}
	dir := filepath.Join(home, ".butterfly_db")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("catalog: mkdir %s: %w", dir, err)
	}
	return filepath.Join(dir, "catalog.json"), nil
}

// NewCatalog loads the catalog at path, or seeds a fresh one with a
// "default" database if the file does not exist.
func NewCatalog(path string) (*Catalog, error) {
	c := &Catalog{storagePath: path}
	buf, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog: read %s: %w", path, err)
		}
		name := "default"
		c.data = CatalogData{
			Databases:       map[string]DatabaseSchema{name: {Name: name, Tables: map[string]TableSchema{}}},
			CurrentDatabase: &name,
		}
		if err := c.save(); err != nil {
			return nil, err
		}
		return c, nil
	}
	var data CatalogData
	if err := json.Unmarshal(buf, &data); err != nil {
		// A corrupt catalog falls back to an empty document rather than
		// failing startup.
		data = CatalogData{Databases: map[string]DatabaseSchema{}}
	}
	if data.Databases == nil {
		data.Databases = map[string]DatabaseSchema{}
	}
	c.data = data
	return c, nil
}

func (c *Catalog) save() error {
	buf, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return fmt.Errorf("catalog: marshal: %w", err)
	}
	if err := os.WriteFile(c.storagePath, buf, 0o644); err != nil {
		return fmt.Errorf("catalog: write %s: %w", c.storagePath, err)
	}
	return nil
}

// CreateDatabase creates a new, empty database. If ifNotExists is true, an
// existing database of the same name is treated as success.
func (c *Catalog) CreateDatabase(name string, ifNotExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data.Databases[name]; ok {
		if ifNotExists {
			return nil
		}
		return fmt.Errorf("database '%s' already exists", name)
	}
	c.data.Databases[name] = DatabaseSchema{Name: name, Tables: map[string]TableSchema{}}
	if c.data.CurrentDatabase == nil {
		n := name
		c.data.CurrentDatabase = &n
	}
	return c.save()
}

// DropDatabase removes a database. If it was current, current re-points to
// an arbitrary remaining database, or nil if none remain.
func (c *Catalog) DropDatabase(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.data.Databases[name]; !ok {
		if ifExists {
			return nil
		}
		return fmt.Errorf("database '%s' does not exist", name)
	}
	delete(c.data.Databases, name)
	if c.data.CurrentDatabase != nil && *c.data.CurrentDatabase == name {
		c.data.CurrentDatabase = nil
		for remaining := range c.data.Databases {
			r := remaining
			c.data.CurrentDatabase = &r
			break
		}
	}
	return c.save()
}

func (c *Catalog) currentDatabaseLocked() (DatabaseSchema, string, error) {
	if c.data.CurrentDatabase == nil {
		return DatabaseSchema{}, "", fmt.Errorf("no database selected")
	}
	dbName := *c.data.CurrentDatabase
	db, ok := c.data.Databases[dbName]
	if !ok {
		return DatabaseSchema{}, "", fmt.Errorf("database '%s' not found", dbName)
	}
	return db, dbName, nil
}

// CreateTable creates table name in the current database.
func (c *Catalog) CreateTable(name string, columns []ColumnSchema, ifNotExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, dbName, err := c.currentDatabaseLocked()
	if err != nil {
		return err
	}
	if _, ok := db.Tables[name]; ok {
		if ifNotExists {
			return nil
		}
		return fmt.Errorf("table '%s' already exists", name)
	}
	db.Tables[name] = NewTableSchema(name, columns)
	c.data.Databases[dbName] = db
	return c.save()
}

// AddColumn appends a new column to an existing table's schema. It fails if
// the table is missing or already has a column of that name.
func (c *Catalog) AddColumn(table string, col ColumnSchema) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, dbName, err := c.currentDatabaseLocked()
	if err != nil {
		return err
	}
	t, ok := db.Tables[table]
	if !ok {
		return fmt.Errorf("table '%s' does not exist", table)
	}
	if _, ok := t.GetColumn(col.Name); ok {
		return fmt.Errorf("column '%s' already exists on table '%s'", col.Name, table)
	}
	t.Columns = append(t.Columns, col)
	db.Tables[table] = t
	c.data.Databases[dbName] = db
	return c.save()
}

// DropTable removes a table from the current database.
func (c *Catalog) DropTable(name string, ifExists bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	db, dbName, err := c.currentDatabaseLocked()
	if err != nil {
		return err
	}
	if _, ok := db.Tables[name]; !ok {
		if ifExists {
			return nil
		}
		return fmt.Errorf("table '%s' does not exist", name)
	}
	delete(db.Tables, name)
	c.data.Databases[dbName] = db
	return c.save()
}

// GetTable looks up a table's schema in the current database.
func (c *Catalog) GetTable(name string) (TableSchema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	db, _, err := c.currentDatabaseLocked()
	if err != nil {
		return TableSchema{}, err
	}
	t, ok := db.Tables[name]
	if !ok {
		return TableSchema{}, fmt.Errorf("table '%s' does not exist", name)
	}
	return t, nil
}

// ListTables lists the current database's table names.
func (c *Catalog) ListTables() ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	db, _, err := c.currentDatabaseLocked()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(db.Tables))
	for n := range db.Tables {
		names = append(names, n)
	}
	return names, nil
}

// CurrentDatabase returns the selected database name, if any.
func (c *Catalog) CurrentDatabase() *string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.data.CurrentDatabase == nil {
		return nil
	}
	name := *c.data.CurrentDatabase
	return &name
}

// UseDatabase switches the current database, failing if it does not exist.
func (c *Catalog) UseDatabase(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.data.Databases[name]; !ok {
		return fmt.Errorf("database '%s' does not exist", name)
	}
	c.data.CurrentDatabase = &name
	return c.save()
}

// DataTypeToString maps a parsed column type name plus optional length
// parameter to the catalog's stored type string, e.g. "VARCHAR(32)".
func DataTypeToString(name string, length int) string {
	if name == "VARCHAR" && length > 0 {
		return fmt.Sprintf("VARCHAR(%d)", length)
	}
	return name
}
