package storage

import (
	"path/filepath"
	"testing"
)

func TestCatalogCreateDropDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	c, err := NewCatalog(path)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if got := c.CurrentDatabase(); got == nil || *got != "default" {
		t.Fatalf("expected default current database, got %v", got)
	}

	if err := c.CreateDatabase("shop", false); err != nil {
		t.Fatalf("create database: %v", err)
	}
	if err := c.CreateDatabase("shop", false); err == nil {
		t.Fatalf("expected already-exists error")
	}
	if err := c.CreateDatabase("shop", true); err != nil {
		t.Fatalf("if_not_exists should suppress error: %v", err)
	}

	if err := c.DropDatabase("default", false); err != nil {
		t.Fatalf("drop database: %v", err)
	}
	if got := c.CurrentDatabase(); got == nil || *got != "shop" {
		t.Fatalf("expected current to re-point to shop, got %v", got)
	}

	if err := c.DropDatabase("nope", false); err == nil {
		t.Fatalf("expected not-exists error")
	}
	if err := c.DropDatabase("nope", true); err != nil {
		t.Fatalf("if_exists should suppress error: %v", err)
	}
}

func TestCatalogCreateDropTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	c, err := NewCatalog(path)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	cols := []ColumnSchema{
		{Name: "id", DataType: "INTEGER", IsPrimaryKey: true},
		{Name: "name", DataType: "VARCHAR(32)", Nullable: true},
	}
	if err := c.CreateTable("users", cols, false); err != nil {
		t.Fatalf("create table: %v", err)
	}
	schema, err := c.GetTable("users")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if len(schema.Columns) != 2 {
		t.Fatalf("unexpected columns: %+v", schema.Columns)
	}

	tables, err := c.ListTables()
	if err != nil || len(tables) != 1 || tables[0] != "users" {
		t.Fatalf("list tables: %v err=%v", tables, err)
	}

	if err := c.DropTable("users", false); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	if _, err := c.GetTable("users"); err == nil {
		t.Fatalf("expected not-exists after drop")
	}
}

func TestCatalogPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	c1, err := NewCatalog(path)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	if err := c1.CreateTable("t", nil, false); err != nil {
		t.Fatalf("create table: %v", err)
	}

	c2, err := NewCatalog(path)
	if err != nil {
		t.Fatalf("reload catalog: %v", err)
	}
	if _, err := c2.GetTable("t"); err != nil {
		t.Fatalf("expected table to survive reload: %v", err)
	}
}
