// Package engine: statement executor (exec.go). Evaluates a parsed
// Statement against a Catalog and Engine and produces an ExecutionResult.
//
// What: DDL dispatch, INSERT/SELECT/UPDATE/DELETE, joins (inner/left/right/
// cross; full is rejected), GROUP BY/HAVING, aggregates (COUNT/SUM/AVG/MIN/
// MAX), scalar functions (UPPER/LOWER/LENGTH/ABS), and a small pure
// expression evaluator shared by WHERE/ON/HAVING/projection/ORDER BY.
//
// How: executor carries the catalog and engine so expression evaluation can
// recurse into subqueries; everything else is a pure function of
// (expression, row binding).
package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/butterflydb/butterflydb/internal/storage"
)

// ResultKind tags which variant of ExecutionResult is populated, mirroring
// an externally-tagged enum.
type ResultKind int

const (
	ResultSuccess ResultKind = iota
	ResultRowsAffected
	ResultRows
	ResultError
)

// ExecutionResult is the outcome of executing one statement. Its JSON shape
// is externally tagged, one key per variant, matching the Rust enum this
// type is grounded on: {"Success":{"message":"..."}},
// {"RowsAffected":{"count":5}}, {"Rows":{"columns":[...],"rows":[...]}},
// {"Error":{"message":"..."}}.
type ExecutionResult struct {
	Kind    ResultKind
	Message string
	Count   int
	Columns []string
	Rows    []storage.Row
}

func (r ExecutionResult) MarshalJSON() ([]byte, error) {
	switch r.Kind {
	case ResultSuccess:
		return json.Marshal(map[string]any{"Success": map[string]any{"message": r.Message}})
	case ResultRowsAffected:
		return json.Marshal(map[string]any{"RowsAffected": map[string]any{"count": r.Count}})
	case ResultRows:
		return json.Marshal(map[string]any{"Rows": map[string]any{"columns": r.Columns, "rows": r.Rows}})
	case ResultError:
		return json.Marshal(map[string]any{"Error": map[string]any{"message": r.Message}})
	default:
		return json.Marshal(nil)
	}
}

func successResult(format string, args ...any) ExecutionResult {
	return ExecutionResult{Kind: ResultSuccess, Message: fmt.Sprintf(format, args...)}
}

func errorResult(format string, args ...any) ExecutionResult {
	return ExecutionResult{Kind: ResultError, Message: fmt.Sprintf(format, args...)}
}

func rowsAffectedResult(n int) ExecutionResult {
	return ExecutionResult{Kind: ResultRowsAffected, Count: n}
}

func rowsResult(columns []string, rows []storage.Row) ExecutionResult {
	if rows == nil {
		rows = []storage.Row{}
	}
	return ExecutionResult{Kind: ResultRows, Columns: columns, Rows: rows}
}

// executor bundles the catalog and engine a statement runs against. Kept as
// a small struct (rather than free functions taking both every time) so
// subquery evaluation can recurse without re-threading arguments.
type executor struct {
	cat *storage.Catalog
	eng *storage.Engine
}

// Execute runs one parsed statement and returns its result. It never
// panics: every failure path is surfaced as a ResultError.
func Execute(cat *storage.Catalog, eng *storage.Engine, stmt Statement) ExecutionResult {
	ex := &executor{cat: cat, eng: eng}
	switch t := stmt.(type) {
	case CreateDatabaseStmt:
		return ex.execCreateDatabase(t)
	case DropDatabaseStmt:
		return ex.execDropDatabase(t)
	case CreateTableStmt:
		return ex.execCreateTable(t)
	case DropTableStmt:
		return ex.execDropTable(t)
	case UseStmt:
		return ex.execUse(t)
	case InsertStmt:
		return ex.execInsert(t)
	case *SelectStmt:
		return ex.execSelect(t)
	case UpdateStmt:
		return ex.execUpdate(t)
	case DeleteStmt:
		return ex.execDelete(t)
	case TransactionStmt:
		return ex.execTransaction(t)
	case AlterTableAddColumnStmt:
		return ex.execAlterTableAddColumn(t)
	default:
		return errorResult("unsupported statement type %T", stmt)
	}
}

func (ex *executor) execCreateDatabase(t CreateDatabaseStmt) ExecutionResult {
	if err := ex.cat.CreateDatabase(t.Name, t.IfNotExists); err != nil {
		return errorResult("%s", err)
	}
	return successResult("database '%s' created", t.Name)
}

func (ex *executor) execDropDatabase(t DropDatabaseStmt) ExecutionResult {
	if err := ex.cat.DropDatabase(t.Name, t.IfExists); err != nil {
		return errorResult("%s", err)
	}
	return successResult("database '%s' dropped", t.Name)
}

func columnSchemaFromDef(d ColumnDef) storage.ColumnSchema {
	col := storage.ColumnSchema{
		Name:     d.Name,
		DataType: storage.DataTypeToString(d.DataType, d.Length),
		Nullable: true,
	}
	for _, c := range d.Constraints {
		switch c.Kind {
		case ConstraintNotNull:
			col.Nullable = false
		case ConstraintPrimaryKey:
			col.IsPrimaryKey = true
			col.Nullable = false
		}
	}
	return col
}

func columnSchemasFromDefs(defs []ColumnDef) []storage.ColumnSchema {
	out := make([]storage.ColumnSchema, 0, len(defs))
	for _, d := range defs {
		out = append(out, columnSchemaFromDef(d))
	}
	return out
}

func (ex *executor) execCreateTable(t CreateTableStmt) ExecutionResult {
	if err := ex.cat.CreateTable(t.Name, columnSchemasFromDefs(t.Columns), t.IfNotExists); err != nil {
		return errorResult("%s", err)
	}
	if err := ex.eng.CreateTable(t.Name); err != nil {
		return errorResult("%s", err)
	}
	return successResult("table '%s' created", t.Name)
}

func (ex *executor) execDropTable(t DropTableStmt) ExecutionResult {
	if err := ex.cat.DropTable(t.Name, t.IfExists); err != nil {
		return errorResult("%s", err)
	}
	if err := ex.eng.DropTable(t.Name); err != nil {
		return errorResult("%s", err)
	}
	return successResult("table '%s' dropped", t.Name)
}

func (ex *executor) execAlterTableAddColumn(t AlterTableAddColumnStmt) ExecutionResult {
	if err := ex.cat.AddColumn(t.Table, columnSchemaFromDef(t.Column)); err != nil {
		return errorResult("%s", err)
	}
	return successResult("column '%s' added to table '%s'", t.Column.Name, t.Table)
}

func (ex *executor) execUse(t UseStmt) ExecutionResult {
	if err := ex.cat.UseDatabase(t.Database); err != nil {
		return errorResult("%s", err)
	}
	return successResult("database '%s' selected", t.Database)
}

func (ex *executor) execTransaction(t TransactionStmt) ExecutionResult {
	switch t.Kind {
	case TxnBegin:
		return successResult("transaction started")
	case TxnCommit:
		return successResult("transaction committed")
	case TxnRollback:
		return successResult("transaction rolled back")
	default:
		return errorResult("unknown transaction statement")
	}
}

func (ex *executor) execInsert(t InsertStmt) ExecutionResult {
	schema, err := ex.cat.GetTable(t.Table)
	if err != nil {
		return errorResult("%s", err)
	}
	colNames := t.Columns
	if len(colNames) == 0 {
		colNames = schema.ColumnNames()
	}
	empty := storage.Row{}
	inserted := 0
	for _, values := range t.Rows {
		if len(values) != len(colNames) {
			return errorResult("column count mismatch: expected %d, got %d", len(colNames), len(values))
		}
		row := make(storage.Row, len(colNames))
		for i, expr := range values {
			row[colNames[i]] = ex.eval(expr, empty)
		}
		n, err := ex.eng.Insert(t.Table, row)
		if err != nil {
			return errorResult("%s", err)
		}
		inserted += n
	}
	return rowsAffectedResult(inserted)
}

func (ex *executor) execUpdate(t UpdateStmt) ExecutionResult {
	empty := storage.Row{}
	updates := make(storage.Row, len(t.Assignments))
	for _, a := range t.Assignments {
		updates[a.Column] = ex.eval(a.Value, empty)
	}
	pred := ex.predicateOf(t.Where)
	n, err := ex.eng.Update(t.Table, updates, pred)
	if err != nil {
		return errorResult("%s", err)
	}
	return rowsAffectedResult(n)
}

func (ex *executor) execDelete(t DeleteStmt) ExecutionResult {
	pred := ex.predicateOf(t.Where)
	n, err := ex.eng.Delete(t.Table, pred)
	if err != nil {
		return errorResult("%s", err)
	}
	return rowsAffectedResult(n)
}

func (ex *executor) predicateOf(where Expr) storage.Predicate {
	if where == nil {
		return storage.AlwaysTrue
	}
	return func(r storage.Row) bool { return ex.truthy(where, r) }
}

// ---- SELECT ----

func (ex *executor) execSelect(stmt *SelectStmt) ExecutionResult {
	if stmt.From == nil {
		return ex.execSelectConstant(stmt)
	}

	rows, cols, err := ex.resolveTableRef(*stmt.From)
	if err != nil {
		return errorResult("%s", err)
	}

	for _, jc := range stmt.Joins {
		rightRows, rightCols, err := ex.resolveTableRef(jc.Ref)
		if err != nil {
			return errorResult("%s", err)
		}
		rows, cols, err = ex.performJoin(rows, cols, jc, rightRows, rightCols)
		if err != nil {
			return errorResult("%s", err)
		}
	}

	if stmt.Where != nil {
		filtered := rows[:0:0]
		for _, r := range rows {
			if ex.truthy(stmt.Where, r) {
				filtered = append(filtered, r)
			}
		}
		rows = filtered
	}

	var outCols []string
	var outRows []storage.Row

	switch {
	case len(stmt.GroupBy) > 0:
		outCols, outRows = ex.groupAndAggregate(stmt, rows)
	case hasAggregate(stmt.Projection):
		outCols, outRows = ex.aggregateOnly(stmt, rows)
	default:
		if len(stmt.OrderBy) > 0 {
			ex.sortRows(rows, stmt.OrderBy)
		}
		outCols, outRows = ex.projectRows(stmt.Projection, rows, cols)
	}

	if stmt.Offset != nil && *stmt.Offset > 0 {
		if *stmt.Offset >= len(outRows) {
			outRows = nil
		} else {
			outRows = outRows[*stmt.Offset:]
		}
	}
	if stmt.Limit != nil && *stmt.Limit < len(outRows) {
		outRows = outRows[:*stmt.Limit]
	}

	if stmt.Union != nil {
		combined, err := ex.applyUnionClauses(stmt.Union, outRows, outCols)
		if err != nil {
			return errorResult("%s", err)
		}
		outRows = combined
	}

	return rowsResult(outCols, outRows)
}

// applyUnionClauses chains UNION/UNION ALL/EXCEPT/INTERSECT onto leftRows,
// executing each right-hand SELECT in turn and requiring matching column
// counts between every pair combined.
func (ex *executor) applyUnionClauses(union *UnionClause, leftRows []storage.Row, cols []string) ([]storage.Row, error) {
	rows := leftRows
	for clause := union; clause != nil; clause = clause.Next {
		right := ex.execSelect(clause.Right)
		if right.Kind == ResultError {
			return nil, fmt.Errorf("%s", right.Message)
		}
		if len(right.Columns) != len(cols) {
			return nil, fmt.Errorf("UNION: column count mismatch between queries (%d vs %d)", len(cols), len(right.Columns))
		}
		switch clause.Type {
		case UnionAll:
			rows = append(rows, right.Rows...)
		case UnionDistinct:
			rows = append(rows, right.Rows...)
			rows = distinctRowsBy(rows, cols)
		case UnionExcept:
			rows = exceptRowsBy(rows, right.Rows, cols)
		case UnionIntersect:
			rows = intersectRowsBy(rows, right.Rows, cols)
		}
	}
	return rows, nil
}

func rowSignature(r storage.Row, cols []string) string {
	var buf strings.Builder
	for i, c := range cols {
		if i > 0 {
			buf.WriteByte('\x1f')
		}
		buf.WriteString(r[c].String())
	}
	return buf.String()
}

func distinctRowsBy(rows []storage.Row, cols []string) []storage.Row {
	seen := make(map[string]bool, len(rows))
	out := make([]storage.Row, 0, len(rows))
	for _, r := range rows {
		key := rowSignature(r, cols)
		if !seen[key] {
			seen[key] = true
			out = append(out, r)
		}
	}
	return out
}

func exceptRowsBy(left, right []storage.Row, cols []string) []storage.Row {
	exclude := make(map[string]bool, len(right))
	for _, r := range right {
		exclude[rowSignature(r, cols)] = true
	}
	out := left[:0:0]
	for _, r := range left {
		if !exclude[rowSignature(r, cols)] {
			out = append(out, r)
		}
	}
	return out
}

func intersectRowsBy(left, right []storage.Row, cols []string) []storage.Row {
	present := make(map[string]bool, len(right))
	for _, r := range right {
		present[rowSignature(r, cols)] = true
	}
	seen := make(map[string]bool, len(left))
	out := left[:0:0]
	for _, r := range left {
		key := rowSignature(r, cols)
		if present[key] && !seen[key] {
			seen[key] = true
			out = append(out, r)
		}
	}
	return out
}

// execSelectConstant handles "SELECT <expr>, ..." with no FROM clause: a
// single synthetic row evaluated once, columns named column0, column1, ...
func (ex *executor) execSelectConstant(stmt *SelectStmt) ExecutionResult {
	empty := storage.Row{}
	cols := make([]string, 0, len(stmt.Projection))
	row := storage.Row{}
	for i, e := range stmt.Projection {
		name := exprSourceName(e, i)
		row[name] = ex.eval(e, empty)
		cols = append(cols, name)
	}
	return rowsResult(cols, []storage.Row{row})
}

func (ex *executor) resolveTableRef(ref TableRef) ([]storage.Row, []string, error) {
	if ref.Subquery != nil {
		res := ex.execSelect(ref.Subquery)
		if res.Kind == ResultError {
			return nil, nil, fmt.Errorf("%s", res.Message)
		}
		return res.Rows, res.Columns, nil
	}
	rows, err := ex.eng.Select(ref.Table, nil, storage.AlwaysTrue)
	if err != nil {
		return nil, nil, err
	}
	if schema, serr := ex.cat.GetTable(ref.Table); serr == nil {
		return rows, schema.ColumnNames(), nil
	}
	if len(rows) > 0 {
		return rows, sortedKeys(rows[0]), nil
	}
	return rows, nil, nil
}

func sortedKeys(r storage.Row) []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func composeRow(l, r storage.Row, rightAlias string) storage.Row {
	out := storage.CloneRow(l)
	for k, v := range r {
		out[rightAlias+"_"+k] = v
	}
	return out
}

func composeRowRightNull(l storage.Row, rightCols []string, rightAlias string) storage.Row {
	out := storage.CloneRow(l)
	for _, c := range rightCols {
		out[rightAlias+"_"+c] = storage.NullValue()
	}
	return out
}

func composeRowLeftNull(r storage.Row, leftCols []string, rightAlias string) storage.Row {
	out := storage.Row{}
	for _, c := range leftCols {
		out[c] = storage.NullValue()
	}
	for k, v := range r {
		out[rightAlias+"_"+k] = v
	}
	return out
}

func prefixCols(cols []string, alias string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "_" + c
	}
	return out
}

// performJoin merges left against right according to jc. RIGHT JOIN is
// supported only as the single join in a query;
// FULL JOIN is rejected outright since neither source system nor the
// teacher's executor models outer-outer joins.
func (ex *executor) performJoin(left []storage.Row, leftCols []string, jc JoinClause, right []storage.Row, rightCols []string) ([]storage.Row, []string, error) {
	alias := jc.Ref.Alias
	var merged []storage.Row

	switch jc.Type {
	case JoinCross:
		for _, l := range left {
			for _, r := range right {
				merged = append(merged, composeRow(l, r, alias))
			}
		}
	case JoinInner:
		for _, l := range left {
			for _, r := range right {
				c := composeRow(l, r, alias)
				if jc.On == nil || ex.truthy(jc.On, c) {
					merged = append(merged, c)
				}
			}
		}
	case JoinLeft:
		for _, l := range left {
			matched := false
			for _, r := range right {
				c := composeRow(l, r, alias)
				if jc.On == nil || ex.truthy(jc.On, c) {
					merged = append(merged, c)
					matched = true
				}
			}
			if !matched {
				merged = append(merged, composeRowRightNull(l, rightCols, alias))
			}
		}
	case JoinRight:
		for _, r := range right {
			matched := false
			for _, l := range left {
				c := composeRow(l, r, alias)
				if jc.On == nil || ex.truthy(jc.On, c) {
					merged = append(merged, c)
					matched = true
				}
			}
			if !matched {
				merged = append(merged, composeRowLeftNull(r, leftCols, alias))
			}
		}
	case JoinFull:
		return nil, nil, fmt.Errorf("FULL JOIN is not supported")
	default:
		return nil, nil, fmt.Errorf("unknown join type %d", jc.Type)
	}

	cols := append(append([]string{}, leftCols...), prefixCols(rightCols, alias)...)
	return merged, cols, nil
}

func (ex *executor) sortRows(rows []storage.Row, orderBy []OrderItem) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, item := range orderBy {
			vi := ex.eval(item.Expr, rows[i])
			vj := ex.eval(item.Expr, rows[j])
			c := compareValues(vi, vj)
			if c != 0 {
				if item.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return false
	})
}

func (ex *executor) projectRows(projection []Expr, rows []storage.Row, baseCols []string) ([]string, []storage.Row) {
	var cols []string
	out := make([]storage.Row, 0, len(rows))
	for ri, r := range rows {
		row := storage.Row{}
		rowCols := make([]string, 0, len(projection))
		for i, e := range projection {
			switch t := e.(type) {
			case StarExpr:
				for _, c := range baseCols {
					row[c] = r[c]
					rowCols = append(rowCols, c)
				}
			case AliasedExpr:
				row[t.Alias] = ex.eval(t.Expr, r)
				rowCols = append(rowCols, t.Alias)
			default:
				name := exprSourceName(e, i)
				row[name] = ex.eval(e, r)
				rowCols = append(rowCols, name)
			}
		}
		if ri == 0 {
			cols = rowCols
		}
		out = append(out, row)
	}
	if cols == nil {
		cols = projectionColumnNames(projection, baseCols)
	}
	return cols, out
}

func projectionColumnNames(projection []Expr, baseCols []string) []string {
	var cols []string
	for i, e := range projection {
		switch t := e.(type) {
		case StarExpr:
			cols = append(cols, baseCols...)
		case AliasedExpr:
			cols = append(cols, t.Alias)
		default:
			cols = append(cols, exprSourceName(e, i))
		}
	}
	return cols
}

func hasAggregate(projection []Expr) bool {
	for _, e := range projection {
		if containsAggregate(e) {
			return true
		}
	}
	return false
}

func containsAggregate(e Expr) bool {
	switch t := e.(type) {
	case FuncCallExpr:
		return isAggregateName(t.Name)
	case AliasedExpr:
		return containsAggregate(t.Expr)
	default:
		return false
	}
}

func isAggregateName(name string) bool {
	switch strings.ToUpper(name) {
	case "COUNT", "SUM", "AVG", "MIN", "MAX":
		return true
	default:
		return false
	}
}

// aggregateOnly handles SELECT with aggregate functions and no GROUP BY:
// exactly one output row summarizing every filtered input row.
func (ex *executor) aggregateOnly(stmt *SelectStmt, rows []storage.Row) ([]string, []storage.Row) {
	cols := projectionColumnNames(stmt.Projection, nil)
	out := storage.Row{}
	for i, e := range stmt.Projection {
		name := cols[i]
		out[name] = ex.evalOverGroup(e, rows)
	}
	return cols, []storage.Row{out}
}

func (ex *executor) groupAndAggregate(stmt *SelectStmt, rows []storage.Row) ([]string, []storage.Row) {
	type group struct {
		key  string
		rows []storage.Row
	}
	groups := map[string]*group{}
	var order []string
	for _, r := range rows {
		parts := make([]string, len(stmt.GroupBy))
		for i, ge := range stmt.GroupBy {
			parts[i] = ex.eval(ge, r).String()
		}
		key := strings.Join(parts, "\x1f")
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.rows = append(g.rows, r)
	}

	if stmt.Having != nil {
		kept := order[:0]
		for _, key := range order {
			g := groups[key]
			if truthyValue(ex.evalOverGroup(stmt.Having, g.rows)) {
				kept = append(kept, key)
			}
		}
		order = kept
	}

	if len(stmt.OrderBy) > 0 {
		sort.SliceStable(order, func(i, j int) bool {
			gi, gj := groups[order[i]], groups[order[j]]
			for _, item := range stmt.OrderBy {
				vi := ex.evalOverGroup(item.Expr, gi.rows)
				vj := ex.evalOverGroup(item.Expr, gj.rows)
				c := compareValues(vi, vj)
				if c != 0 {
					if item.Descending {
						return c > 0
					}
					return c < 0
				}
			}
			return false
		})
	}

	cols := projectionColumnNames(stmt.Projection, nil)
	out := make([]storage.Row, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := storage.Row{}
		for i, e := range stmt.Projection {
			row[cols[i]] = ex.evalOverGroup(e, g.rows)
		}
		out = append(out, row)
	}
	return cols, out
}

// exprSourceName derives the display column name for a projected expression
// lacking an explicit alias: an identifier keeps its own name, a function
// call renders as "name(args)", and anything else falls back to a
// positional "columnN" placeholder.
func exprSourceName(e Expr, idx int) string {
	switch t := e.(type) {
	case IdentExpr:
		return t.Name
	case QualifiedColumnExpr:
		return t.Column
	case FuncCallExpr:
		name := strings.ToLower(t.Name)
		if t.Star {
			return name + "(*)"
		}
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = exprSourceName(a, i)
		}
		return name + "(" + strings.Join(parts, ", ") + ")"
	case AliasedExpr:
		return t.Alias
	default:
		return fmt.Sprintf("column%d", idx)
	}
}

// ---- expression evaluation ----

func lookupColumn(row storage.Row, name string) storage.Value {
	if v, ok := row[name]; ok {
		return v
	}
	return storage.NullValue()
}

func lookupQualified(row storage.Row, table, column string) storage.Value {
	if v, ok := row[table+"_"+column]; ok {
		return v
	}
	if v, ok := row[column]; ok {
		return v
	}
	return storage.NullValue()
}

func truthyValue(v storage.Value) bool {
	switch v.Kind {
	case storage.KindBoolean:
		return v.B
	case storage.KindNull:
		return false
	default:
		return true
	}
}

func (ex *executor) truthy(e Expr, row storage.Row) bool {
	if e == nil {
		return true
	}
	return truthyValue(ex.eval(e, row))
}

// eval is a pure function of (expr, row binding) for every node kind that
// needs no catalog/engine access; subqueries and IN (subquery) are the only
// nodes that reach back into the executor.
func (ex *executor) eval(e Expr, row storage.Row) storage.Value {
	switch t := e.(type) {
	case nil:
		return storage.NullValue()
	case LiteralExpr:
		return t.Value
	case IdentExpr:
		return lookupColumn(row, t.Name)
	case QualifiedColumnExpr:
		return lookupQualified(row, t.Table, t.Column)
	case UnaryExpr:
		return applyUnary(t.Op, ex.eval(t.Expr, row))
	case BinaryExpr:
		return evalBinaryValue(t.Op, ex.eval(t.Left, row), ex.eval(t.Right, row))
	case BetweenExpr:
		v := ex.eval(t.Expr, row)
		lo := ex.eval(t.Low, row)
		hi := ex.eval(t.High, row)
		return storage.BoolValue(compareValues(v, lo) >= 0 && compareValues(v, hi) <= 0)
	case InExpr:
		return ex.evalIn(t, row)
	case FuncCallExpr:
		return ex.evalFuncCall(t, row)
	case CaseExpr:
		for _, w := range t.Whens {
			if ex.truthy(w.Cond, row) {
				return ex.eval(w.Then, row)
			}
		}
		if t.Else != nil {
			return ex.eval(t.Else, row)
		}
		return storage.NullValue()
	case SubqueryExpr:
		return ex.evalSubqueryScalar(t.Select)
	case AliasedExpr:
		return ex.eval(t.Expr, row)
	case StarExpr:
		return storage.NullValue()
	default:
		return storage.NullValue()
	}
}

func (ex *executor) evalIn(t InExpr, row storage.Row) storage.Value {
	v := ex.eval(t.Expr, row)
	found := false
	if t.Subquery != nil {
		res := ex.execSelect(t.Subquery)
		if res.Kind == ResultRows && len(res.Columns) > 0 {
			col := res.Columns[0]
			for _, r := range res.Rows {
				if valuesEqual(v, r[col]) {
					found = true
					break
				}
			}
		}
	}
	for _, item := range t.List {
		if valuesEqual(v, ex.eval(item, row)) {
			found = true
			break
		}
	}
	if t.Negated {
		found = !found
	}
	return storage.BoolValue(found)
}

func (ex *executor) evalSubqueryScalar(sel *SelectStmt) storage.Value {
	res := ex.execSelect(sel)
	if res.Kind != ResultRows || len(res.Rows) == 0 || len(res.Columns) == 0 {
		return storage.NullValue()
	}
	return res.Rows[0][res.Columns[0]]
}

// evalOverGroup evaluates e against a whole group of rows: aggregate
// function nodes reduce the group, everything else evaluates against the
// group's first row (spec's non-aggregate-column-in-aggregate-query rule).
func (ex *executor) evalOverGroup(e Expr, rows []storage.Row) storage.Value {
	switch t := e.(type) {
	case FuncCallExpr:
		if isAggregateName(t.Name) {
			return computeAggregate(t, rows)
		}
		return ex.eval(t, firstRowOf(rows))
	case BinaryExpr:
		return evalBinaryValue(t.Op, ex.evalOverGroup(t.Left, rows), ex.evalOverGroup(t.Right, rows))
	case UnaryExpr:
		return applyUnary(t.Op, ex.evalOverGroup(t.Expr, rows))
	case AliasedExpr:
		return ex.evalOverGroup(t.Expr, rows)
	case CaseExpr:
		for _, w := range t.Whens {
			if truthyValue(ex.evalOverGroup(w.Cond, rows)) {
				return ex.evalOverGroup(w.Then, rows)
			}
		}
		if t.Else != nil {
			return ex.evalOverGroup(t.Else, rows)
		}
		return storage.NullValue()
	default:
		return ex.eval(e, firstRowOf(rows))
	}
}

func firstRowOf(rows []storage.Row) storage.Row {
	if len(rows) == 0 {
		return storage.Row{}
	}
	return rows[0]
}

func computeAggregate(call FuncCallExpr, rows []storage.Row) storage.Value {
	switch strings.ToUpper(call.Name) {
	case "COUNT":
		if call.Star || len(call.Args) == 0 {
			return storage.IntValue(int64(len(rows)))
		}
		count := int64(0)
		for _, r := range rows {
			if !exprValueIn(call.Args[0], r).IsNull() {
				count++
			}
		}
		return storage.IntValue(count)
	case "SUM":
		return reduceNumeric(call.Args, rows)
	case "AVG":
		var sum float64
		count := 0
		if len(call.Args) == 0 {
			return storage.NullValue()
		}
		for _, r := range rows {
			v := exprValueIn(call.Args[0], r)
			if f, ok := numericValue(v); ok {
				sum += f
				count++
			}
		}
		if count == 0 {
			return storage.NullValue()
		}
		return storage.FloatValue(sum / float64(count))
	case "MIN", "MAX":
		if len(call.Args) == 0 {
			return storage.NullValue()
		}
		var best *storage.Value
		for _, r := range rows {
			v := exprValueIn(call.Args[0], r)
			if v.IsNull() {
				continue
			}
			if best == nil {
				cpy := v
				best = &cpy
				continue
			}
			c := compareValues(v, *best)
			if (strings.EqualFold(call.Name, "MIN") && c < 0) || (strings.EqualFold(call.Name, "MAX") && c > 0) {
				cpy := v
				best = &cpy
			}
		}
		if best == nil {
			return storage.NullValue()
		}
		return *best
	default:
		return storage.NullValue()
	}
}

// exprValueIn evaluates an expression against a single row without needing
// executor state: column references and literals are read directly, and any
// other expression is evaluated by an executor with no catalog or engine
// attached.
func exprValueIn(e Expr, row storage.Row) storage.Value {
	switch t := e.(type) {
	case IdentExpr:
		return lookupColumn(row, t.Name)
	case QualifiedColumnExpr:
		return lookupQualified(row, t.Table, t.Column)
	case LiteralExpr:
		return t.Value
	default:
		return (&executor{}).eval(e, row)
	}
}

func reduceNumeric(args []Expr, rows []storage.Row) storage.Value {
	if len(args) == 0 {
		return storage.NullValue()
	}
	allInt := true
	var isum int64
	var fsum float64
	any := false
	for _, r := range rows {
		v := exprValueIn(args[0], r)
		if v.IsNull() {
			continue
		}
		any = true
		switch v.Kind {
		case storage.KindInteger:
			isum += v.I
			fsum += float64(v.I)
		case storage.KindFloat:
			allInt = false
			fsum += v.F
		default:
			allInt = false
		}
	}
	if !any {
		return storage.NullValue()
	}
	if allInt {
		return storage.IntValue(isum)
	}
	return storage.FloatValue(fsum)
}

var upperCaser = cases.Upper(language.Und)
var lowerCaser = cases.Lower(language.Und)

func (ex *executor) evalFuncCall(t FuncCallExpr, row storage.Row) storage.Value {
	if isAggregateName(t.Name) {
		// Aggregate calls outside an aggregate/GROUP BY projection context
		// have no row set to reduce over.
		return storage.NullValue()
	}
	switch strings.ToUpper(t.Name) {
	case "UPPER":
		if len(t.Args) != 1 {
			return storage.NullValue()
		}
		v := ex.eval(t.Args[0], row)
		if v.Kind != storage.KindText {
			return storage.NullValue()
		}
		return storage.TextValue(upperCaser.String(v.S))
	case "LOWER":
		if len(t.Args) != 1 {
			return storage.NullValue()
		}
		v := ex.eval(t.Args[0], row)
		if v.Kind != storage.KindText {
			return storage.NullValue()
		}
		return storage.TextValue(lowerCaser.String(v.S))
	case "LENGTH":
		if len(t.Args) != 1 {
			return storage.NullValue()
		}
		v := ex.eval(t.Args[0], row)
		if v.Kind != storage.KindText {
			return storage.NullValue()
		}
		return storage.IntValue(int64(len([]rune(v.S))))
	case "ABS":
		if len(t.Args) != 1 {
			return storage.NullValue()
		}
		v := ex.eval(t.Args[0], row)
		switch v.Kind {
		case storage.KindInteger:
			if v.I < 0 {
				return storage.IntValue(-v.I)
			}
			return v
		case storage.KindFloat:
			return storage.FloatValue(math.Abs(v.F))
		default:
			return storage.NullValue()
		}
	default:
		return storage.NullValue()
	}
}

func applyUnary(op string, v storage.Value) storage.Value {
	switch op {
	case "NOT":
		return storage.BoolValue(!truthyValue(v))
	case "-":
		switch v.Kind {
		case storage.KindInteger:
			return storage.IntValue(-v.I)
		case storage.KindFloat:
			return storage.FloatValue(-v.F)
		default:
			return storage.NullValue()
		}
	case "+":
		return v
	default:
		return storage.NullValue()
	}
}

func evalBinaryValue(op string, l, r storage.Value) storage.Value {
	switch op {
	case "AND":
		return storage.BoolValue(truthyValue(l) && truthyValue(r))
	case "OR":
		return storage.BoolValue(truthyValue(l) || truthyValue(r))
	case "=":
		return storage.BoolValue(valuesEqual(l, r))
	case "<>", "!=":
		return storage.BoolValue(!valuesEqual(l, r))
	case "<":
		return storage.BoolValue(compareValues(l, r) < 0)
	case "<=":
		return storage.BoolValue(compareValues(l, r) <= 0)
	case ">":
		return storage.BoolValue(compareValues(l, r) > 0)
	case ">=":
		return storage.BoolValue(compareValues(l, r) >= 0)
	case "LIKE":
		if l.Kind == storage.KindText && r.Kind == storage.KindText {
			return storage.BoolValue(matchLike(l.S, r.S))
		}
		return storage.BoolValue(false)
	case "+", "-", "*", "/", "%":
		return arithmetic(op, l, r)
	default:
		return storage.NullValue()
	}
}

func numericValue(v storage.Value) (float64, bool) {
	switch v.Kind {
	case storage.KindInteger:
		return float64(v.I), true
	case storage.KindFloat:
		return v.F, true
	default:
		return 0, false
	}
}

// arithmetic promotes integer+float mixes to float and yields Null on
// division (or modulo) by zero, matching the original executor's behavior.
func arithmetic(op string, l, r storage.Value) storage.Value {
	lf, lok := numericValue(l)
	rf, rok := numericValue(r)
	if !lok || !rok {
		return storage.NullValue()
	}
	if l.Kind == storage.KindInteger && r.Kind == storage.KindInteger {
		switch op {
		case "+":
			return storage.IntValue(l.I + r.I)
		case "-":
			return storage.IntValue(l.I - r.I)
		case "*":
			return storage.IntValue(l.I * r.I)
		case "/":
			if r.I == 0 {
				return storage.NullValue()
			}
			return storage.IntValue(l.I / r.I)
		case "%":
			if r.I == 0 {
				return storage.NullValue()
			}
			return storage.IntValue(l.I % r.I)
		}
	}
	switch op {
	case "+":
		return storage.FloatValue(lf + rf)
	case "-":
		return storage.FloatValue(lf - rf)
	case "*":
		return storage.FloatValue(lf * rf)
	case "/":
		if rf == 0 {
			return storage.NullValue()
		}
		return storage.FloatValue(lf / rf)
	case "%":
		if rf == 0 {
			return storage.NullValue()
		}
		return storage.FloatValue(math.Mod(lf, rf))
	default:
		return storage.NullValue()
	}
}

// compareValues is a NaN-safe three-way comparison: text compares with text,
// booleans with booleans (false < true), and integers and floats compare
// numerically with each other; a NaN operand on either side collapses to
// equal, and any other cross-kind comparison (e.g. text vs integer) also
// collapses to equal rather than panicking or picking an arbitrary order.
func compareValues(l, r storage.Value) int {
	if l.Kind == storage.KindText && r.Kind == storage.KindText {
		return strings.Compare(l.S, r.S)
	}
	if l.Kind == storage.KindBoolean && r.Kind == storage.KindBoolean {
		if l.B == r.B {
			return 0
		}
		if !l.B && r.B {
			return -1
		}
		return 1
	}
	if lf, lok := numericValue(l); lok {
		if rf, rok := numericValue(r); rok {
			if math.IsNaN(lf) || math.IsNaN(rf) {
				return 0
			}
			switch {
			case lf < rf:
				return -1
			case lf > rf:
				return 1
			default:
				return 0
			}
		}
	}
	return 0
}

func valuesEqual(l, r storage.Value) bool { return compareValues(l, r) == 0 }

// matchLike translates a SQL LIKE pattern (% and _ wildcards) to an
// anchored regular expression.
func matchLike(text, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteString(".")
		default:
			sb.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(text)
}
