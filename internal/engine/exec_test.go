package engine

import (
	"path/filepath"
	"testing"

	"github.com/butterflydb/butterflydb/internal/storage"
)

func newTestExecEnv(t *testing.T) (*storage.Catalog, *storage.Engine) {
	t.Helper()
	cat, err := storage.NewCatalog(filepath.Join(t.TempDir(), "catalog.json"))
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	eng := storage.NewEngine(t.TempDir())
	return cat, eng
}

func run(t *testing.T, cat *storage.Catalog, eng *storage.Engine, sql string) ExecutionResult {
	t.Helper()
	stmts, err := ParseStatements(sql)
	if err != nil {
		t.Fatalf("parse %q: %v", sql, err)
	}
	var last ExecutionResult
	for _, s := range stmts {
		last = Execute(cat, eng, s)
		if last.Kind == ResultError {
			t.Fatalf("exec %q: %s", sql, last.Message)
		}
	}
	return last
}

func TestExecCreateInsertSelect(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE users (id INTEGER PRIMARY KEY, name VARCHAR(32) NOT NULL)")
	run(t, cat, eng, "INSERT INTO users (id, name) VALUES (1, 'Alice'), (2, 'Bob')")

	res := run(t, cat, eng, "SELECT id, name FROM users WHERE id = 1")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d: %+v", len(res.Rows), res.Rows)
	}
	if res.Rows[0]["name"].S != "Alice" {
		t.Fatalf("unexpected row: %+v", res.Rows[0])
	}
}

func TestExecAlterTableAddColumn(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE users (id INTEGER PRIMARY KEY)")
	run(t, cat, eng, "ALTER TABLE users ADD COLUMN age INTEGER")

	schema, err := cat.GetTable("users")
	if err != nil {
		t.Fatalf("get table: %v", err)
	}
	if len(schema.Columns) != 2 || schema.Columns[1].Name != "age" {
		t.Fatalf("unexpected schema after alter: %+v", schema)
	}

	stmts, err := ParseStatements("ALTER TABLE users ADD COLUMN age INTEGER")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res := Execute(cat, eng, stmts[0])
	if res.Kind != ResultError {
		t.Fatalf("expected re-adding an existing column to fail, got %+v", res)
	}

	stmts, err = ParseStatements("ALTER TABLE missing ADD COLUMN age INTEGER")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res = Execute(cat, eng, stmts[0])
	if res.Kind != ResultError {
		t.Fatalf("expected altering a missing table to fail, got %+v", res)
	}
}

func TestExecUnionExceptIntersect(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE a (id INTEGER)")
	run(t, cat, eng, "CREATE TABLE b (id INTEGER)")
	run(t, cat, eng, "INSERT INTO a (id) VALUES (1), (2), (2)")
	run(t, cat, eng, "INSERT INTO b (id) VALUES (2), (3)")

	res := run(t, cat, eng, "SELECT id FROM a UNION SELECT id FROM b")
	if len(res.Rows) != 3 {
		t.Fatalf("expected UNION to dedupe to 3 rows, got %d: %+v", len(res.Rows), res.Rows)
	}

	res = run(t, cat, eng, "SELECT id FROM a UNION ALL SELECT id FROM b")
	if len(res.Rows) != 5 {
		t.Fatalf("expected UNION ALL to keep all 5 rows, got %d: %+v", len(res.Rows), res.Rows)
	}

	res = run(t, cat, eng, "SELECT id FROM a EXCEPT SELECT id FROM b")
	if len(res.Rows) != 1 || res.Rows[0]["id"].I != 1 {
		t.Fatalf("expected EXCEPT to leave only id=1, got %+v", res.Rows)
	}

	res = run(t, cat, eng, "SELECT id FROM a INTERSECT SELECT id FROM b")
	if len(res.Rows) != 1 || res.Rows[0]["id"].I != 2 {
		t.Fatalf("expected INTERSECT to leave only id=2, got %+v", res.Rows)
	}

	stmts, err := ParseStatements("SELECT id FROM a UNION SELECT id, id FROM b")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	mismatch := Execute(cat, eng, stmts[0])
	if mismatch.Kind != ResultError {
		t.Fatalf("expected a column count mismatch error, got %+v", mismatch)
	}
}

func TestExecCountStar(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE users (id INTEGER, name VARCHAR(32))")
	run(t, cat, eng, "INSERT INTO users (id, name) VALUES (1, 'a'), (2, 'b'), (3, 'c')")

	res := run(t, cat, eng, "SELECT COUNT(*) FROM users")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if res.Columns[0] != "count(*)" {
		t.Fatalf("unexpected column name: %v", res.Columns)
	}
	if res.Rows[0]["count(*)"].I != 3 {
		t.Fatalf("unexpected count: %+v", res.Rows[0])
	}
}

func TestExecSelectNoFrom(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	res := run(t, cat, eng, "SELECT 1 + 1")
	if len(res.Rows) != 1 || res.Columns[0] != "column0" {
		t.Fatalf("unexpected result: %+v cols=%v", res.Rows, res.Columns)
	}
	if res.Rows[0]["column0"].I != 2 {
		t.Fatalf("unexpected value: %+v", res.Rows[0])
	}
}

func TestExecUpdateDelete(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE t (id INTEGER, n INTEGER)")
	run(t, cat, eng, "INSERT INTO t (id, n) VALUES (1, 10), (2, 20)")

	res := run(t, cat, eng, "UPDATE t SET n = 99 WHERE id = 1")
	if res.Count != 1 {
		t.Fatalf("expected 1 row updated, got %d", res.Count)
	}

	sel := run(t, cat, eng, "SELECT n FROM t WHERE id = 1")
	if sel.Rows[0]["n"].I != 99 {
		t.Fatalf("update did not apply: %+v", sel.Rows[0])
	}

	del := run(t, cat, eng, "DELETE FROM t WHERE id = 2")
	if del.Count != 1 {
		t.Fatalf("expected 1 row deleted, got %d", del.Count)
	}
}

func TestExecInnerJoin(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE a (id INTEGER, name VARCHAR(32))")
	run(t, cat, eng, "CREATE TABLE b (a_id INTEGER, label VARCHAR(32))")
	run(t, cat, eng, "INSERT INTO a (id, name) VALUES (1, 'x'), (2, 'y')")
	run(t, cat, eng, "INSERT INTO b (a_id, label) VALUES (1, 'first')")

	res := run(t, cat, eng, "SELECT a.name, b.label FROM a INNER JOIN b ON a.id = b.a_id")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 joined row, got %d: %+v", len(res.Rows), res.Rows)
	}
}

func TestExecLeftJoinFillsNull(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE a (id INTEGER)")
	run(t, cat, eng, "CREATE TABLE b (a_id INTEGER, label VARCHAR(32))")
	run(t, cat, eng, "INSERT INTO a (id) VALUES (1), (2)")
	run(t, cat, eng, "INSERT INTO b (a_id, label) VALUES (1, 'first')")

	res := run(t, cat, eng, "SELECT id FROM a LEFT JOIN b ON a.id = b.a_id")
	if len(res.Rows) != 2 {
		t.Fatalf("expected 2 rows from left join, got %d: %+v", len(res.Rows), res.Rows)
	}
}

func TestExecFullJoinRejected(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE a (id INTEGER)")
	run(t, cat, eng, "CREATE TABLE b (id INTEGER)")

	stmts, err := ParseStatements("SELECT * FROM a FULL JOIN b ON a.id = b.id")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	res := Execute(cat, eng, stmts[0])
	if res.Kind != ResultError {
		t.Fatalf("expected FULL JOIN to be rejected, got %+v", res)
	}
}

func TestExecGroupByHaving(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE sales (region VARCHAR(16), amount INTEGER)")
	run(t, cat, eng, "INSERT INTO sales (region, amount) VALUES ('east', 10), ('east', 20), ('west', 5)")

	res := run(t, cat, eng, "SELECT region, SUM(amount) FROM sales GROUP BY region HAVING SUM(amount) > 15")
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 group past HAVING, got %d: %+v", len(res.Rows), res.Rows)
	}
	if res.Rows[0]["region"].S != "east" {
		t.Fatalf("unexpected group: %+v", res.Rows[0])
	}
}

func TestExecLikeAndCase(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE t (name VARCHAR(32), score INTEGER)")
	run(t, cat, eng, "INSERT INTO t (name, score) VALUES ('Alice', 90), ('Bob', 40)")

	res := run(t, cat, eng, "SELECT name FROM t WHERE name LIKE 'Al%'")
	if len(res.Rows) != 1 || res.Rows[0]["name"].S != "Alice" {
		t.Fatalf("unexpected LIKE result: %+v", res.Rows)
	}

	res = run(t, cat, eng, "SELECT CASE WHEN score > 50 THEN 'pass' ELSE 'fail' END FROM t WHERE name = 'Bob'")
	if res.Rows[0]["column0"].S != "fail" {
		t.Fatalf("unexpected CASE result: %+v", res.Rows[0])
	}
}

func TestExecOrderByLimitOffset(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	run(t, cat, eng, "CREATE TABLE t (n INTEGER)")
	run(t, cat, eng, "INSERT INTO t (n) VALUES (3), (1), (2)")

	res := run(t, cat, eng, "SELECT n FROM t ORDER BY n DESC LIMIT 2")
	if len(res.Rows) != 2 || res.Rows[0]["n"].I != 3 || res.Rows[1]["n"].I != 2 {
		t.Fatalf("unexpected ordered rows: %+v", res.Rows)
	}

	res = run(t, cat, eng, "SELECT n FROM t ORDER BY n DESC LIMIT 1 OFFSET 1")
	if len(res.Rows) != 1 || res.Rows[0]["n"].I != 2 {
		t.Fatalf("unexpected offset rows: %+v", res.Rows)
	}
}

func TestExecDivisionByZeroYieldsNull(t *testing.T) {
	cat, eng := newTestExecEnv(t)
	res := run(t, cat, eng, "SELECT 1 / 0")
	if !res.Rows[0]["column0"].IsNull() {
		t.Fatalf("expected null, got %+v", res.Rows[0])
	}
}

func TestExecCrossTypeCompareTreatedAsEqual(t *testing.T) {
	if compareValues(storage.TextValue("x"), storage.IntValue(1)) != 0 {
		t.Fatalf("expected cross-type compare to collapse to equal")
	}
}
