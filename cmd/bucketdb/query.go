package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"

	"github.com/bucketdb/bucketdb/internal/store"
	"github.com/bucketdb/bucketdb/pkg/types"
)

const queryHelp = `
Conditions are written as "FIELD OP VALUE", for example:

>    --where "rank >= 3" --where "title LIKE 'intro%'"
>    --where-or-null "due < 1700000000"
>    --match "body:sqlite" --match ":anywhere"

Supported operators: = != < <= > >= LIKE "NOT LIKE". A VALUE of null,
true or false is the literal; numbers are numbers; anything else is text,
optionally in single or double quotes. --match takes COLUMN:TERMS, where an
empty COLUMN searches every full-text column.

Sorting uses --order FIELD[:asc|:desc]; the field "key" sorts by document key.
`

// queryFlags are shared by query and count.
type queryFlags struct {
	bucketFlag
	Where       []string `long:"where" short:"w" description:"Condition FIELD OP VALUE (repeatable)"`
	WhereOrNull []string `long:"where-or-null" description:"Condition that also matches null or missing fields (repeatable)"`
	Match       []string `long:"match" short:"m" description:"Full-text condition COLUMN:TERMS (repeatable)"`
}

func (f *queryFlags) build() (*types.Query, error) {
	q := types.NewQuery()
	for _, expr := range f.Where {
		c, err := parseCondition(expr)
		if err != nil {
			return nil, err
		}
		q.Conditions = append(q.Conditions, c)
	}
	for _, expr := range f.WhereOrNull {
		c, err := parseCondition(expr)
		if err != nil {
			return nil, err
		}
		c.IncludeNull = true
		q.Conditions = append(q.Conditions, c)
	}
	for _, expr := range f.Match {
		column, terms, ok := strings.Cut(expr, ":")
		if !ok {
			return nil, fmt.Errorf("match %q: expected COLUMN:TERMS", expr)
		}
		q.MatchText(column, terms)
	}
	return q, nil
}

type cmdQuery struct {
	queryFlags
	Order   []string `long:"order" short:"o" description:"Sort FIELD[:asc|:desc] (repeatable)"`
	Include []string `long:"include" short:"i" description:"Index field to show (repeatable)"`
	Snippet []string `long:"snippet" description:"Full-text snippet NAME:COLUMN to show (repeatable)"`
	Limit   int      `long:"limit" short:"n" default:"-1" description:"Maximum number of documents (-1 for all)"`
	Offset  int      `long:"offset" description:"Documents to skip (needs --limit)"`
	Format  string   `long:"format" short:"f" default:"table" choice:"table" choice:"json" choice:"keys" description:"Output format"`
}

func (cmd *cmdQuery) Execute([]string) error {
	q, err := cmd.build()
	if err != nil {
		return err
	}
	for _, o := range cmd.Order {
		if err := addSorter(q, o); err != nil {
			return err
		}
	}
	q.Include(cmd.Include...)
	for _, s := range cmd.Snippet {
		name, column, ok := strings.Cut(s, ":")
		if !ok {
			return fmt.Errorf("snippet %q: expected NAME:COLUMN", s)
		}
		q.IncludeSnippet(name, column)
	}
	if cmd.Limit >= 0 {
		q.Limit(cmd.Limit)
		if cmd.Offset > 0 {
			q.Offset(cmd.Offset)
		}
	} else if cmd.Offset > 0 {
		return fmt.Errorf("--offset requires --limit")
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := bucketStore(ctx, a, cmd.Bucket)
	if err != nil {
		return err
	}
	c, err := s.Search(ctx, q)
	if err != nil {
		return err
	}
	defer c.Close()

	columns := fieldNames(q)
	switch cmd.Format {
	case "keys":
		keys, err := store.Keys(c)
		if err != nil {
			return err
		}
		for _, k := range keys {
			fmt.Fprintln(stdout, k)
		}
		return nil
	case "json":
		var out []map[string]interface{}
		for c.Next() {
			row := map[string]interface{}{"key": c.Key(), "data": c.Document().Data}
			for _, name := range columns {
				row[name], _ = c.Field(name)
			}
			out = append(out, row)
		}
		if err := c.Err(); err != nil {
			return err
		}
		return printJSON(out)
	default:
		table := tablewriter.NewWriter(stdout)
		header := []any{"Key"}
		for _, name := range columns {
			header = append(header, name)
		}
		table.Header(header...)
		for c.Next() {
			row := []string{c.Key()}
			for _, name := range columns {
				v, _ := c.Field(name)
				row = append(row, displayValue(v))
			}
			if err := table.Append(row); err != nil {
				return err
			}
		}
		if err := c.Err(); err != nil {
			return err
		}
		return table.Render()
	}
}

type cmdCount struct {
	queryFlags
}

func (cmd *cmdCount) Execute([]string) error {
	q, err := cmd.build()
	if err != nil {
		return err
	}

	ctx := context.Background()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := bucketStore(ctx, a, cmd.Bucket)
	if err != nil {
		return err
	}
	n, err := s.Count(ctx, q)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, n)
	return nil
}

// comparators in match order: longer operators first so "<=" is not read as "<".
var comparators = []types.Comparator{
	types.NotLike, types.Like,
	types.NotEqualTo, types.LessThanOrEqual, types.GreaterThanOrEqual,
	types.EqualTo, types.LessThan, types.GreaterThan,
}

// parseCondition parses "FIELD OP VALUE".
func parseCondition(expr string) (types.Condition, error) {
	best, at := types.Comparator(""), -1
	for _, cmp := range comparators {
		token := string(cmp)
		if cmp == types.Like || cmp == types.NotLike {
			token = " " + token + " "
		}
		i := strings.Index(strings.ToUpper(expr), token)
		if i < 0 {
			continue
		}
		if cmp == types.Like || cmp == types.NotLike {
			i++
		}
		if at < 0 || i < at {
			best, at = cmp, i
		}
	}
	if at < 0 {
		return types.Condition{}, fmt.Errorf("condition %q: no operator", expr)
	}

	field := strings.TrimSpace(expr[:at])
	if field == "" {
		return types.Condition{}, fmt.Errorf("condition %q: missing field", expr)
	}
	value := strings.TrimSpace(expr[at+len(best):])
	return types.Condition{Key: field, Comparator: best, Subject: parseValue(value)}, nil
}

func parseValue(s string) types.Value {
	switch strings.ToLower(s) {
	case "null":
		return types.Null
	case "true":
		return types.BoolValue(true)
	case "false":
		return types.BoolValue(false)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.IntValue(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.FloatValue(f)
	}
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		s = s[1 : len(s)-1]
	}
	return types.TextValue(s)
}

func addSorter(q *types.Query, spec string) error {
	field, dir, _ := strings.Cut(spec, ":")
	order := types.Ascending
	switch strings.ToLower(dir) {
	case "", "asc":
	case "desc":
		order = types.Descending
	default:
		return fmt.Errorf("order %q: direction must be asc or desc", spec)
	}
	if field == "key" {
		q.OrderByKey(order)
	} else {
		q.OrderBy(field, order)
	}
	return nil
}

func fieldNames(q *types.Query) []string {
	names := make([]string, 0, len(q.Fields))
	for _, f := range q.Fields {
		names = append(names, f.Name)
	}
	return names
}

func displayValue(v interface{}) string {
	if v == nil {
		return "<null>"
	}
	return fmt.Sprint(v)
}
