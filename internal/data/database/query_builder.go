// Package database provides a small SQL fragment builder used by the
// repository layer to assemble parameterized SELECT statements without
// hand-concatenating strings in every repo file.
package database

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType identifies the SQL operator a Condition renders as.
type ConditionType string

// Supported condition operators. Custom bypasses operator rendering entirely
// and lets the caller supply a raw SQL fragment via WhereRawCond.
const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "!="
	GreaterThan        ConditionType = ">"
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	GreaterThanOrEqual ConditionType = ">="
	Like               ConditionType = "LIKE"
	ILike              ConditionType = "ILIKE"
	In                 ConditionType = "IN"
	Any                ConditionType = "ANY"
	Custom             ConditionType = "CUSTOM"
)

const (
	unsetLimit  = -1
	unsetOffset = -1

	// aliasSplitLimit bounds the split on " AS " to column expr + alias.
	aliasSplitLimit = 2
	// jsonExprGroups is the capture-group count a matched JSON expression yields.
	jsonExprGroups = 3
)

// Condition is a single WHERE predicate. Build one with WhereCond or
// WhereRawCond rather than constructing the struct directly.
type Condition struct {
	Field    string
	Type     ConditionType
	Value    any
	rawQuery *string
}

// WhereCond builds a standard field/operator/value predicate.
func WhereCond(field string, condType ConditionType, value any) Condition {
	if condType == Custom {
		//nolint:forbidigo // misuse guard: Custom conditions must go through WhereRawCond.
		panic("database: Custom condition type requires WhereRawCond")
	}
	return Condition{Field: field, Type: condType, Value: value}
}

// WhereRawCond builds a predicate from a raw SQL fragment. Placeholder
// indices ($1, $2, ...) inside rawQuery are renumbered to fit wherever the
// condition lands in the final WHERE clause.
func WhereRawCond(rawQuery string, params ...any) Condition {
	q := rawQuery
	var val any
	switch len(params) {
	case 0:
		val = nil
	case 1:
		val = params[0]
	default:
		val = params
	}
	return Condition{Type: Custom, rawQuery: &q, Value: val}
}

// ListQueryOptions captures everything needed to render a SELECT statement.
type ListQueryOptions struct {
	Table      string
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	OrderBy    string
	OrderDir   string
	Limit      int
	Offset     int
}

// ListQueryOption mutates a ListQueryOptions during construction.
type ListQueryOption func(*ListQueryOptions)

// NewListQueryOptions applies functional options on top of defaults for the
// given table. Limit/Offset default to an "unset" sentinel so BuildListQuery
// can tell "explicitly zero" apart from "not requested".
func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	o := &ListQueryOptions{
		Table:   table,
		Columns: []string{},
		Limit:   unsetLimit,
		Offset:  unsetOffset,
	}
	for _, apply := range opts {
		apply(o)
	}
	return o
}

// WithColumns sets the projected columns; omit for SELECT *.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) { o.Columns = cols }
}

// WithCondition appends one predicate to the WHERE clause.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = append(o.Conditions, cond) }
}

// WithConditions replaces the entire predicate list.
func WithConditions(conds ...Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = conds }
}

// WithOrderBy sets the sort column and direction (ASC/DESC; anything else is dropped).
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.OrderBy = column
		o.OrderDir = direction
	}
}

// WithLimit sets LIMIT. Negative values are ignored, so LIMIT stays unset.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets OFFSET. Negative values are ignored, so OFFSET stays unset.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

// WithCountOnly switches the statement to `SELECT COUNT(*)` and suppresses
// ORDER BY / LIMIT / OFFSET rendering.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) { o.CountOnly = true }
}

// BuildListQuery renders options into a parameterized SQL string and its
// positional argument slice.
//
//	opts := NewListQueryOptions("sites",
//		WithColumns("id", "name"),
//		WithCondition(WhereCond("enabled", Equal, true)),
//		WithOrderBy("created_at", "DESC"),
//		WithLimit(25), WithOffset(0),
//	)
//	query, args := BuildListQuery(opts)
func BuildListQuery(opts *ListQueryOptions) (string, []any) {
	if opts == nil {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString(renderSelect(opts))
	sb.WriteString("FROM ")
	sb.WriteString(quoteIdent(opts.Table))

	where, args, nextParam := renderWhere(opts.Conditions, 1)
	if where != "" {
		sb.WriteString(" ")
		sb.WriteString(where)
	}

	if opts.CountOnly {
		return sb.String(), args
	}

	tail, args := renderTail(opts, nextParam, args)
	sb.WriteString(tail)
	return sb.String(), args
}

// renderSelect renders the SELECT clause, resolving column aliases and JSON
// path expressions along the way.
func renderSelect(opts *ListQueryOptions) string {
	if opts.CountOnly {
		return "SELECT COUNT(*) "
	}
	if len(opts.Columns) == 0 {
		return "SELECT * "
	}
	cols := make([]string, len(opts.Columns))
	for i, c := range opts.Columns {
		cols[i] = renderColumn(c)
	}
	return fmt.Sprintf("SELECT %s ", strings.Join(cols, ", "))
}

// renderTail renders ORDER BY / LIMIT / OFFSET, continuing the caller's
// parameter numbering and argument slice.
func renderTail(opts *ListQueryOptions, paramStart int, args []any) (string, []any) {
	var sb strings.Builder
	n := paramStart

	if opts.OrderBy != "" {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(quoteQualifiedIdent(opts.OrderBy))
		if dir := strings.ToUpper(opts.OrderDir); dir == "ASC" || dir == "DESC" {
			sb.WriteString(" ")
			sb.WriteString(dir)
		}
	}

	if opts.Limit != unsetLimit {
		fmt.Fprintf(&sb, " LIMIT $%d", n)
		args = append(args, opts.Limit)
		n++
	}
	if opts.Offset != unsetOffset {
		fmt.Fprintf(&sb, " OFFSET $%d", n)
		args = append(args, opts.Offset)
	}

	return sb.String(), args
}

// renderWhere joins rendered conditions with AND, returning the next free
// parameter index for whatever clause follows (e.g. LIMIT/OFFSET).
func renderWhere(conds []Condition, paramStart int) (string, []any, int) {
	parts := make([]string, 0, len(conds))
	args := []any{}
	n := paramStart

	for _, c := range conds {
		rendered, condArgs, next := renderCondition(c, n)
		if rendered == "" {
			continue
		}
		parts = append(parts, rendered)
		args = append(args, condArgs...)
		n = next
	}

	if len(parts) == 0 {
		return "", args, n
	}
	return "WHERE " + strings.Join(parts, " AND "), args, n
}

// renderCondition dispatches a single Condition to its operator-specific renderer.
func renderCondition(c Condition, paramStart int) (string, []any, int) {
	if c.Type == Custom {
		return renderCustomCondition(c, paramStart)
	}

	if c.Field == "" {
		return "", nil, paramStart
	}
	field := quoteIdent(c.Field)

	switch c.Type {
	case In:
		return renderSliceCondition(c, field, paramStart, "%s IN (%s)")
	case Any:
		return renderSliceCondition(c, field, paramStart, "%s = ANY (ARRAY[%s])")
	case Equal, NotEqual, GreaterThan, LessThan, LessThanOrEqual, GreaterThanOrEqual, Like, ILike:
		return fmt.Sprintf("%s %s $%d", field, c.Type, paramStart), []any{c.Value}, paramStart + 1
	default:
		return "", nil, paramStart
	}
}

// renderSliceCondition renders IN/ANY conditions, accepting any slice type via reflection.
func renderSliceCondition(c Condition, field string, paramStart int, format string) (string, []any, int) {
	rv := reflect.ValueOf(c.Value)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return "", nil, paramStart
	}

	n := rv.Len()
	placeholders := make([]string, n)
	args := make([]any, n)
	param := paramStart
	for i := range n {
		placeholders[i] = fmt.Sprintf("$%d", param)
		args[i] = rv.Index(i).Interface()
		param++
	}
	return fmt.Sprintf(format, field, strings.Join(placeholders, ", ")), args, param
}

// placeholderRE matches Postgres positional parameters ($1, $12, ...).
var placeholderRE = regexp.MustCompile(`\$(\d+)`)

// renderCustomCondition splices a raw SQL fragment in, renumbering its
// placeholders to continue the enclosing query's parameter sequence. The
// fragment itself is trusted verbatim and is never sanitized.
func renderCustomCondition(c Condition, paramStart int) (string, []any, int) {
	if c.rawQuery == nil || *c.rawQuery == "" {
		return "", nil, paramStart
	}
	if c.Value == nil {
		return *c.rawQuery, nil, paramStart
	}

	params, ok := c.Value.([]any)
	if !ok {
		params = []any{c.Value}
	}

	args := []any{}
	param := paramStart
	renumber := make(map[int]int, len(params))

	rendered := placeholderRE.ReplaceAllStringFunc(*c.rawQuery, func(m string) string {
		idx, err := strconv.Atoi(m[1:])
		if err != nil || idx < 1 || idx > len(params) {
			return m
		}
		mapped, seen := renumber[idx]
		if !seen {
			mapped = param
			renumber[idx] = mapped
			args = append(args, params[idx-1])
			param++
		}
		return fmt.Sprintf("$%d", mapped)
	})

	return rendered, args, param
}

// --- identifier and column-expression helpers ---

func quoteIdent(ident string) string {
	return pgx.Identifier{ident}.Sanitize()
}

// quoteQualifiedIdent quotes dotted identifiers ("table.column") part by part.
func quoteQualifiedIdent(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}

// asClausePattern matches a case-insensitive " AS " separator.
var asClausePattern = regexp.MustCompile(`(?i)\s+AS\s+`)

// renderColumn turns one column-spec string from ListQueryOptions.Columns
// into a quoted SELECT item, accepting three shapes:
//
//	"column"                        -> "column"
//	"column AS alias"               -> "column" AS "alias"
//	"json_col->>'path' AS alias"    -> "json_col"->>'path' AS "alias"
func renderColumn(spec string) string {
	if asClausePattern.MatchString(spec) {
		parts := asClausePattern.Split(spec, aliasSplitLimit)
		if len(parts) == aliasSplitLimit {
			expr := renderColumnExpr(strings.TrimSpace(parts[0]))
			alias := quoteIdent(strings.TrimSpace(parts[1]))
			return fmt.Sprintf("%s AS %s", expr, alias)
		}
	}
	return renderColumnExpr(spec)
}

func renderColumnExpr(expr string) string {
	switch {
	case strings.Contains(expr, "->"):
		return renderJSONExpr(expr)
	case strings.Contains(expr, "."):
		return quoteQualifiedIdent(expr)
	default:
		return quoteIdent(expr)
	}
}

// jsonExprPattern splits a JSON path expression into its base identifier and
// its chain of -> / ->> path segments.
var jsonExprPattern = regexp.MustCompile(`^([a-zA-Z_][a-zA-Z0-9_.]*)((?:->>'[^']*'|(?:->'[^']*'))+)$`)

// jsonPathSegment matches one valid -> or ->> path hop with an
// alphanumeric/underscore/hyphen key.
var jsonPathSegment = regexp.MustCompile(`(->>'[a-zA-Z0-9_-]*'|(?:->'[a-zA-Z0-9_-]*'))`)

// renderJSONExpr quotes the base column of a JSON path expression and
// re-emits only path segments that match the allowed key pattern, dropping
// anything else so malformed input can't smuggle extra SQL through.
func renderJSONExpr(expr string) string {
	m := jsonExprPattern.FindStringSubmatch(expr)
	if len(m) != jsonExprGroups {
		return ""
	}
	column, path := m[1], m[2]

	var quotedColumn string
	if strings.Contains(column, ".") {
		quotedColumn = quoteQualifiedIdent(column)
	} else {
		quotedColumn = quoteIdent(column)
	}

	segments := jsonPathSegment.FindAllString(path, -1)
	return quotedColumn + strings.Join(segments, "")
}

// JSONText renders a `->>` (text) extraction: column->>'path' AS alias.
func JSONText(column, path, alias string) string {
	return fmt.Sprintf("%s->>'%s' AS %s", quoteQualifiedIdent(column), jsonKey(path), quoteIdent(alias))
}

// JSONObject renders a `->` (object) extraction: column->'path' AS alias.
func JSONObject(column, path, alias string) string {
	return fmt.Sprintf("%s->'%s' AS %s", quoteQualifiedIdent(column), jsonKey(path), quoteIdent(alias))
}

// JSONPath renders a nested JSON path, where path segments are separated by
// "->" in the caller's spec; every segment but the last uses ->, the last
// uses ->> so the final value comes back as text.
func JSONPath(column, path, alias string) string {
	segments := strings.Split(path, "->")
	if len(segments) == 1 {
		return JSONText(column, path, alias)
	}

	var sb strings.Builder
	sb.WriteString(quoteQualifiedIdent(column))
	for i, seg := range segments {
		if i == len(segments)-1 {
			fmt.Fprintf(&sb, "->>'%s'", jsonKey(seg))
		} else {
			fmt.Fprintf(&sb, "->'%s'", jsonKey(seg))
		}
	}
	sb.WriteString(" AS ")
	sb.WriteString(quoteIdent(alias))
	return sb.String()
}

// jsonKey strips anything outside [A-Za-z0-9_-] from a JSON path key so it
// can be interpolated into a ->/->> expression without risk of injection.
func jsonKey(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
