package storage

import "testing"

func TestEngineInsertSelectUpdateDelete(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(dir)
	if err := e.CreateTable("users"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	if _, err := e.Insert("users", Row{"id": IntValue(1), "name": TextValue("Alice")}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := e.Insert("users", Row{"id": IntValue(2), "name": TextValue("Bob")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rows, err := e.Select("users", nil, func(r Row) bool { return r["id"].I > 1 })
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0]["name"].S != "Bob" {
		t.Fatalf("unexpected select result: %+v", rows)
	}

	n, err := e.Update("users", Row{"name": TextValue("Alicia")}, func(r Row) bool { return r["id"].I == 1 })
	if err != nil || n != 1 {
		t.Fatalf("update: n=%d err=%v", n, err)
	}
	rows, err = e.Select("users", nil, func(r Row) bool { return r["id"].I == 1 })
	if err != nil || len(rows) != 1 || rows[0]["name"].S != "Alicia" {
		t.Fatalf("select after update: %+v err=%v", rows, err)
	}

	n, err = e.Delete("users", func(r Row) bool { return r["id"].I == 1 })
	if err != nil || n != 1 {
		t.Fatalf("delete: n=%d err=%v", n, err)
	}
	count, err := e.RowCount("users")
	if err != nil || count != 1 {
		t.Fatalf("row count after delete: %d err=%v", count, err)
	}
}

func TestEngineCompactTableAndAll(t *testing.T) {
	dir := t.TempDir()
	e := NewEngine(dir)
	if err := e.CreateTable("events"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	for i := int64(0); i < 5; i++ {
		if _, err := e.Insert("events", Row{"id": IntValue(i)}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := e.Delete("events", func(r Row) bool { return r["id"].I%2 == 0 }); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if err := e.CompactTable("events"); err != nil {
		t.Fatalf("compact table: %v", err)
	}
	rows, err := e.Select("events", nil, AlwaysTrue)
	if err != nil || len(rows) != 2 {
		t.Fatalf("unexpected rows after compaction: %+v err=%v", rows, err)
	}

	if err := e.CompactAll(); err != nil {
		t.Fatalf("compact all: %v", err)
	}

	if err := e.CompactTable("missing"); err == nil {
		t.Fatalf("expected an error compacting a nonexistent table")
	}
}

func TestEngineLoadAllColdStart(t *testing.T) {
	dir := t.TempDir()
	e1 := NewEngine(dir)
	if err := e1.CreateTable("t"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e1.Insert("t", Row{"x": IntValue(42)}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	e2 := NewEngine(dir)
	if err := e2.LoadAll(); err != nil {
		t.Fatalf("load all: %v", err)
	}
	rows, err := e2.Select("t", nil, AlwaysTrue)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if len(rows) != 1 || rows[0]["x"].I != 42 {
		t.Fatalf("unexpected rows after cold start: %+v", rows)
	}
}
