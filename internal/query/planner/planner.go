// Package planner compiles abstract bucket queries into SQL over the
// shared objects/indexes tables. Compilation produces a structured Plan;
// rendering to SQL text is a separate step so plans can be inspected and
// tested without a database.
package planner

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	errs "github.com/bucketdb/bucketdb/internal/errors"
	"github.com/bucketdb/bucketdb/internal/index"
	"github.com/bucketdb/bucketdb/pkg/types"
)

// Result column names of a rendered SELECT, ahead of the projections.
const (
	ColumnRowID = "_id"
	ColumnKey   = "object_key"
	ColumnData  = "object_data"
)

// Snippet markup.
const (
	SnippetStart    = "<match>"
	SnippetEnd      = "</match>"
	SnippetEllipsis = "…"
)

// FullTextInfo describes the full-text layout of the bucket being queried.
// Empty Fields means the bucket has no full-text table.
type FullTextInfo struct {
	Fields []string
}

// Join is a LEFT JOIN of one index entry name under an alias.
type Join struct {
	Alias string
	Name  string
}

// Predicate is a WHERE term with its bound arguments.
type Predicate struct {
	SQL  string
	Args []interface{}
}

// Projection is an extra result column.
type Projection struct {
	Expr string
	Name string
}

// Order is one ORDER BY term.
type Order struct {
	Expr      string
	Direction types.SortOrder
}

// Plan is a compiled query. Joins are rendered in order and their names
// are bound ahead of the predicate arguments.
type Plan struct {
	Bucket string

	// FullTextTable is set when the full-text table is joined
	FullTextTable string

	Joins       []Join
	Predicates  []Predicate
	Projections []Projection
	Orders      []Order

	Limit     int
	Offset    int
	HasLimit  bool
	HasOffset bool
}

type compiler struct {
	plan    *Plan
	ft      FullTextInfo
	next    int
	aliases map[string]string
}

// Compile builds the plan for q against bucket. Unsupported comparators,
// full-text use on a bucket without a full-text table and unknown snippet
// columns are rejected with QUERY/UNSUPPORTED_CONDITION.
func Compile(bucket string, ft FullTextInfo, q *types.Query) (*Plan, error) {
	if !types.ValidIdentifier(bucket) {
		return nil, errs.NewValidationError(errs.CodeInvalidBucketName, fmt.Sprintf("invalid bucket name %q", bucket))
	}
	if q == nil {
		q = types.NewQuery()
	}

	c := &compiler{
		plan:    &Plan{Bucket: bucket},
		ft:      ft,
		aliases: make(map[string]string),
	}

	for _, cond := range q.Conditions {
		if err := c.condition(cond); err != nil {
			return nil, err
		}
	}
	for _, f := range q.Fields {
		if err := c.field(f); err != nil {
			return nil, err
		}
	}
	for _, s := range q.Sorters {
		if err := c.sorter(s); err != nil {
			return nil, err
		}
	}

	if q.HasLimit() {
		c.plan.HasLimit = true
		c.plan.Limit = q.GetLimit()
		if q.HasOffset() {
			c.plan.HasOffset = true
			c.plan.Offset = q.GetOffset()
		}
	}
	return c.plan, nil
}

func unsupported(format string, args ...interface{}) error {
	return errs.NewQueryError(errs.CodeUnsupportedCondition, fmt.Sprintf(format, args...))
}

// join allocates the next alias for name. The most recent alias of a name
// is the one reused by projections and sorters.
func (c *compiler) join(name string) string {
	alias := "i" + strconv.Itoa(c.next)
	c.next++
	c.plan.Joins = append(c.plan.Joins, Join{Alias: alias, Name: name})
	c.aliases[name] = alias
	return alias
}

func (c *compiler) joinFullText() error {
	if len(c.ft.Fields) == 0 {
		return unsupported("bucket %s has no full-text index", c.plan.Bucket)
	}
	c.plan.FullTextTable = index.FullTextTableName(c.plan.Bucket)
	return nil
}

func (c *compiler) condition(cond types.Condition) error {
	switch cond.Comparator {
	case types.Match:
		return c.match(cond)
	case types.EqualTo, types.NotEqualTo, types.LessThan, types.LessThanOrEqual,
		types.GreaterThan, types.GreaterThanOrEqual, types.Like, types.NotLike:
	default:
		return unsupported("unknown comparator %q", cond.Comparator)
	}
	if cond.Key == "" {
		return unsupported("condition %s without a field", cond.Comparator)
	}

	alias := c.join(cond.Key)
	value := alias + ".value"

	if cond.Subject.IsNull() {
		switch cond.Comparator {
		case types.EqualTo, types.Like:
			c.where(fmt.Sprintf("(%s IS NULL)", value))
		case types.NotEqualTo, types.NotLike:
			c.where(fmt.Sprintf("(%s IS NOT NULL)", value))
		}
		return nil
	}

	nullTerm := fmt.Sprintf("%s IS NOT NULL AND", value)
	if cond.IncludeNull {
		nullTerm = fmt.Sprintf("%s IS NULL OR", value)
	}
	operand, args := literal(cond.Subject)
	c.where(fmt.Sprintf("(%s %s %s %s)", nullTerm, value, cond.Comparator, operand), args...)
	return nil
}

func (c *compiler) match(cond types.Condition) error {
	if err := c.joinFullText(); err != nil {
		return err
	}
	if cond.Subject.IsNull() {
		return unsupported("MATCH against null")
	}
	target := index.QuoteIdent(c.plan.FullTextTable)
	if cond.Key != "" {
		if types.ColumnIndex(c.ft.Fields, cond.Key) < 0 {
			return unsupported("full-text column %q is not configured", cond.Key)
		}
		target += "." + index.QuoteIdent(cond.Key)
	}
	c.where(fmt.Sprintf("(%s MATCH ?)", target), cond.Subject.String())
	return nil
}

func (c *compiler) where(sql string, args ...interface{}) {
	c.plan.Predicates = append(c.plan.Predicates, Predicate{SQL: sql, Args: args})
}

// literal renders a non-null subject. Numbers and booleans are embedded;
// text is always bound.
func literal(v types.Value) (string, []interface{}) {
	switch v.Kind {
	case types.KindInt:
		return strconv.FormatInt(v.Int, 10), nil
	case types.KindBool:
		if v.Bool {
			return "1", nil
		}
		return "0", nil
	case types.KindFloat:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return "?", []interface{}{v.Float}
		}
		return strconv.FormatFloat(v.Float, 'g', -1, 64), nil
	default:
		return "?", []interface{}{v.String()}
	}
}

func (c *compiler) field(f types.Field) error {
	if f.Name == "" {
		return unsupported("projection without a name")
	}
	switch f.Kind {
	case types.SnippetFieldKind:
		if err := c.joinFullText(); err != nil {
			return err
		}
		col := f.ColumnIndex
		if f.Column != "" {
			col = types.ColumnIndex(c.ft.Fields, f.Column)
			if col < 0 {
				return unsupported("snippet column %q is not configured", f.Column)
			}
		}
		if col < -1 || col >= len(c.ft.Fields) {
			return unsupported("snippet column %d out of range", col)
		}
		expr := fmt.Sprintf("snippet(%s, '%s', '%s', '%s', %d)",
			index.QuoteIdent(c.plan.FullTextTable), SnippetStart, SnippetEnd, SnippetEllipsis, col)
		c.plan.Projections = append(c.plan.Projections, Projection{Expr: expr, Name: f.Name})
	case types.OffsetsFieldKind:
		if err := c.joinFullText(); err != nil {
			return err
		}
		expr := fmt.Sprintf("offsets(%s)", index.QuoteIdent(c.plan.FullTextTable))
		c.plan.Projections = append(c.plan.Projections, Projection{Expr: expr, Name: f.Name})
	case types.IndexFieldKind:
		alias, ok := c.aliases[f.Name]
		if !ok {
			alias = c.join(f.Name)
		}
		c.plan.Projections = append(c.plan.Projections, Projection{Expr: alias + ".value", Name: f.Name})
	default:
		return unsupported("unknown field kind %d", f.Kind)
	}
	return nil
}

func (c *compiler) sorter(s types.Sorter) error {
	dir := s.Order
	switch dir {
	case "":
		dir = types.Ascending
	case types.Ascending, types.Descending:
	default:
		return unsupported("unknown sort order %q", s.Order)
	}

	if s.Kind == types.SortByKey {
		c.plan.Orders = append(c.plan.Orders, Order{Expr: "objects.key", Direction: dir})
		return nil
	}
	if s.Key == "" {
		return unsupported("sort without a field")
	}
	alias, ok := c.aliases[s.Key]
	if !ok {
		alias = c.join(s.Key)
	}
	c.plan.Orders = append(c.plan.Orders, Order{Expr: alias + ".value", Direction: dir})
	return nil
}

// from renders the shared FROM ... WHERE ... clause and its arguments.
func (p *Plan) from() (string, []interface{}) {
	var b strings.Builder
	var args []interface{}

	b.WriteString(" FROM objects")
	if p.FullTextTable != "" {
		ft := index.QuoteIdent(p.FullTextTable)
		fmt.Fprintf(&b, " JOIN %s ON objects.key = %s.key", ft, ft)
	}
	for _, j := range p.Joins {
		fmt.Fprintf(&b, " LEFT JOIN indexes AS %s ON objects.bucket = %s.bucket AND objects.key = %s.key AND %s.name = ?",
			j.Alias, j.Alias, j.Alias, j.Alias)
		args = append(args, j.Name)
	}

	b.WriteString(" WHERE objects.bucket = ?")
	args = append(args, p.Bucket)
	for _, pred := range p.Predicates {
		b.WriteString(" AND ")
		b.WriteString(pred.SQL)
		args = append(args, pred.Args...)
	}
	return b.String(), args
}

// SelectSQL renders the document query.
func (p *Plan) SelectSQL() (string, []interface{}) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT objects.rowid AS %s, objects.key AS %s, objects.data AS %s", ColumnRowID, ColumnKey, ColumnData)
	for _, proj := range p.Projections {
		fmt.Fprintf(&b, ", %s AS %s", proj.Expr, index.QuoteIdent(proj.Name))
	}

	from, args := p.from()
	b.WriteString(from)

	if len(p.Orders) > 0 {
		terms := make([]string, len(p.Orders))
		for i, o := range p.Orders {
			terms[i] = o.Expr + " " + string(o.Direction)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if p.HasLimit {
		b.WriteString(" LIMIT ?")
		args = append(args, p.Limit)
		if p.HasOffset {
			b.WriteString(" OFFSET ?")
			args = append(args, p.Offset)
		}
	}
	return b.String(), args
}

// CountSQL renders the matching-document count over the same FROM/WHERE.
func (p *Plan) CountSQL() (string, []interface{}) {
	from, args := p.from()
	return "SELECT count(objects.rowid) AS total" + from, args
}
