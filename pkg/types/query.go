package types

// Comparator is the comparison applied by a Condition.
type Comparator string

const (
	EqualTo            Comparator = "="
	NotEqualTo         Comparator = "!="
	LessThan           Comparator = "<"
	LessThanOrEqual    Comparator = "<="
	GreaterThan        Comparator = ">"
	GreaterThanOrEqual Comparator = ">="
	Like               Comparator = "LIKE"
	NotLike            Comparator = "NOT LIKE"
	Match              Comparator = "MATCH"
)

// Condition filters documents by an index field.
type Condition struct {
	// Key is the index field name. For MATCH an empty Key matches across
	// the whole full-text row.
	Key string

	Comparator Comparator
	Subject    Value

	// IncludeNull also accepts documents whose field is null or missing
	IncludeNull bool
}

// SortOrder is ASC or DESC.
type SortOrder string

const (
	Ascending  SortOrder = "ASC"
	Descending SortOrder = "DESC"
)

// SortKind selects what a Sorter orders by.
type SortKind int

const (
	SortByField SortKind = iota
	SortByKey
)

// Sorter orders results by the document key or an index field.
type Sorter struct {
	Kind  SortKind
	Key   string
	Order SortOrder
}

// FieldKind selects what a projected Field surfaces.
type FieldKind int

const (
	IndexFieldKind FieldKind = iota
	SnippetFieldKind
	OffsetsFieldKind
)

// Field is a projected column returned alongside each document.
type Field struct {
	Kind FieldKind

	// Name is the result column name; for index fields it is also the
	// index entry name
	Name string

	// Column selects the full-text column for snippets, by name. When
	// empty, ColumnIndex is used (-1 means all columns).
	Column      string
	ColumnIndex int
}

// Query is an abstract query against one bucket.
type Query struct {
	Conditions []Condition
	Sorters    []Sorter
	Fields     []Field

	limit     int
	offset    int
	hasLimit  bool
	hasOffset bool
}

// NewQuery returns an empty query matching every document.
func NewQuery() *Query {
	return &Query{}
}

// Where appends a condition on an index field.
func (q *Query) Where(key string, cmp Comparator, subject interface{}) *Query {
	q.Conditions = append(q.Conditions, Condition{Key: key, Comparator: cmp, Subject: ValueOf(subject)})
	return q
}

// WhereOrNull appends a condition that also accepts null values.
func (q *Query) WhereOrNull(key string, cmp Comparator, subject interface{}) *Query {
	q.Conditions = append(q.Conditions, Condition{Key: key, Comparator: cmp, Subject: ValueOf(subject), IncludeNull: true})
	return q
}

// MatchText appends a full-text condition; an empty column matches all columns.
func (q *Query) MatchText(column, terms string) *Query {
	q.Conditions = append(q.Conditions, Condition{Key: column, Comparator: Match, Subject: TextValue(terms)})
	return q
}

// OrderBy sorts by an index field.
func (q *Query) OrderBy(field string, order SortOrder) *Query {
	q.Sorters = append(q.Sorters, Sorter{Kind: SortByField, Key: field, Order: order})
	return q
}

// OrderByKey sorts by the document key.
func (q *Query) OrderByKey(order SortOrder) *Query {
	q.Sorters = append(q.Sorters, Sorter{Kind: SortByKey, Order: order})
	return q
}

// Include projects an index field into the results.
func (q *Query) Include(names ...string) *Query {
	for _, n := range names {
		q.Fields = append(q.Fields, Field{Kind: IndexFieldKind, Name: n})
	}
	return q
}

// IncludeSnippet projects a full-text snippet of column as name.
func (q *Query) IncludeSnippet(name, column string) *Query {
	q.Fields = append(q.Fields, Field{Kind: SnippetFieldKind, Name: name, Column: column, ColumnIndex: -1})
	return q
}

// IncludeSnippetColumn projects a snippet of the column at index.
func (q *Query) IncludeSnippetColumn(name string, index int) *Query {
	q.Fields = append(q.Fields, Field{Kind: SnippetFieldKind, Name: name, ColumnIndex: index})
	return q
}

// IncludeOffsets projects full-text match offsets as name.
func (q *Query) IncludeOffsets(name string) *Query {
	q.Fields = append(q.Fields, Field{Kind: OffsetsFieldKind, Name: name})
	return q
}

// Limit caps the number of results.
func (q *Query) Limit(n int) *Query {
	q.limit = n
	q.hasLimit = true
	return q
}

// Offset skips results; it only applies together with Limit.
func (q *Query) Offset(n int) *Query {
	q.offset = n
	q.hasOffset = true
	return q
}

func (q *Query) HasLimit() bool  { return q.hasLimit }
func (q *Query) HasOffset() bool { return q.hasOffset }
func (q *Query) GetLimit() int   { return q.limit }
func (q *Query) GetOffset() int  { return q.offset }
