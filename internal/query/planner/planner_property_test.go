package planner

import (
	"strconv"
	"strings"
	"testing"

	"github.com/bucketdb/bucketdb/pkg/types"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var comparators = []types.Comparator{
	types.EqualTo, types.NotEqualTo, types.LessThan, types.LessThanOrEqual,
	types.GreaterThan, types.GreaterThanOrEqual, types.Like, types.NotLike,
}

type condSpec struct {
	Field    int
	Cmp      int
	Kind     int
	Text     string
	Number   int64
	WithNull bool
}

func genCondSpec() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 4),
		gen.IntRange(0, len(comparators)-1),
		gen.IntRange(0, 4),
		gen.AnyString(),
		gen.Int64(),
		gen.Bool(),
	).Map(func(vals []interface{}) condSpec {
		return condSpec{
			Field:    vals[0].(int),
			Cmp:      vals[1].(int),
			Kind:     vals[2].(int),
			Text:     vals[3].(string),
			Number:   vals[4].(int64),
			WithNull: vals[5].(bool),
		}
	})
}

func (s condSpec) condition() types.Condition {
	var subject types.Value
	switch s.Kind {
	case 0:
		subject = types.Null
	case 1:
		subject = types.BoolValue(s.Number%2 == 0)
	case 2:
		subject = types.IntValue(s.Number)
	case 3:
		subject = types.FloatValue(float64(s.Number) / 7)
	default:
		subject = types.TextValue(s.Text)
	}
	return types.Condition{
		Key:         []string{"title", "rank", "score", "done", "tag"}[s.Field],
		Comparator:  comparators[s.Cmp],
		Subject:     subject,
		IncludeNull: s.WithNull,
	}
}

// TestPlaceholderArgumentAgreement checks that every rendered statement
// binds exactly as many arguments as it has placeholders.
func TestPlaceholderArgumentAgreement(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("placeholders match arguments", prop.ForAll(
		func(specs []condSpec, sortField int, limit bool, text string) bool {
			q := types.NewQuery()
			for _, s := range specs {
				q.Conditions = append(q.Conditions, s.condition())
			}
			q.MatchText("", text)
			q.Include("rank").OrderBy([]string{"title", "created"}[sortField%2], types.Descending)
			if limit {
				q.Limit(10).Offset(3)
			}

			plan, err := Compile("notes", FullTextInfo{Fields: []string{"body"}}, q)
			if err != nil {
				return false
			}
			sql, args := plan.SelectSQL()
			if strings.Count(sql, "?") != len(args) {
				return false
			}
			sql, args = plan.CountSQL()
			return strings.Count(sql, "?") == len(args)
		},
		gen.SliceOf(genCondSpec()),
		gen.IntRange(0, 1),
		gen.Bool(),
		gen.AnyString(),
	))

	properties.Property("aliases are numbered densely", prop.ForAll(
		func(specs []condSpec) bool {
			q := types.NewQuery()
			for _, s := range specs {
				q.Conditions = append(q.Conditions, s.condition())
			}
			plan, err := Compile("notes", FullTextInfo{}, q)
			if err != nil {
				return false
			}
			if len(plan.Joins) != len(specs) {
				return false
			}
			for i, j := range plan.Joins {
				if j.Alias != "i"+strconv.Itoa(i) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genCondSpec()),
	))

	properties.TestingRun(t)
}
