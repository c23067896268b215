// Package assertion compiles a declarative t2m.AssertionSpec into a
// parameterized SQL query plus the comparison it must satisfy, following
// the same "whitelist then interpolate, bind the rest" dynamic-SQL idiom
// memento's sqlite memory_store.go uses for its List/ORDER BY construction.
package assertion

import (
	"fmt"
	"strings"

	"github.com/text2mem/benchctl/internal/t2m"
)

// allowedTables whitelists the tables an AssertionSpec.Select.From may name.
// The sandbox store only ever exposes "memory" today; the whitelist exists
// so an unexpected table name fails loudly instead of becoming a SQL
// injection vector if more tables are ever added.
var allowedTables = map[string]bool{
	"memory": true,
}

// allowedAggregates whitelists Select.Agg.
var allowedAggregates = map[string]bool{
	"":        true, // bare COUNT(*)
	"count":   true,
	"sum":     true,
	"avg":     true,
	"min":     true,
	"max":     true,
}

// Compiled is a ready-to-execute assertion query plus its comparison.
type Compiled struct {
	Name    string
	SQL     string
	Args    []interface{}
	Op      t2m.CompareOp
	Want    interface{}
}

// Compile turns a declarative AssertionSpec into a parameterized query. The
// where clauses are caller-authored (from fixture data, not end-user
// input), matching the trust boundary memento applies to its own
// internally-constructed dynamic SQL — they are concatenated with AND, and
// any value placeholders (`?`) bind against spec.Params in declared order.
func Compile(spec *t2m.AssertionSpec) (*Compiled, error) {
	if spec == nil {
		return nil, fmt.Errorf("assertion: nil spec")
	}
	table := spec.Select.From
	if table == "" {
		table = "memory"
	}
	if !allowedTables[table] {
		return nil, fmt.Errorf("assertion: table %q is not allowed", table)
	}

	agg := strings.ToLower(strings.TrimSpace(spec.Select.Agg))
	if !allowedAggregates[agg] {
		return nil, fmt.Errorf("assertion: aggregate %q is not allowed", spec.Select.Agg)
	}

	selectExpr := "COUNT(*)"
	switch agg {
	case "", "count":
		selectExpr = "COUNT(*)"
	case "sum":
		selectExpr = "SUM(weight)"
	case "avg":
		selectExpr = "AVG(weight)"
	case "min":
		selectExpr = "MIN(weight)"
	case "max":
		selectExpr = "MAX(weight)"
	}

	q := fmt.Sprintf("SELECT %s FROM %s WHERE deleted = 0", selectExpr, table)
	if len(spec.Select.Where) > 0 {
		q += " AND " + strings.Join(spec.Select.Where, " AND ")
	}

	args, err := bindArgs(q, spec.Params)
	if err != nil {
		return nil, err
	}

	return &Compiled{
		Name: spec.Name,
		SQL:  q,
		Args: args,
		Op:   spec.Expect.Op,
		Want: spec.Expect.Value,
	}, nil
}

// bindArgs returns the ordered parameter values for the `?` placeholders in
// query, read from params in the order the keys "p0", "p1", ... appear, or
// falls back to an empty arg slice when the where clauses are literal (the
// common case: tag/type/weight comparisons embed their literal directly).
func bindArgs(query string, params map[string]interface{}) ([]interface{}, error) {
	n := strings.Count(query, "?")
	if n == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, n)
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("p%d", i)
		v, ok := params[key]
		if !ok {
			return nil, fmt.Errorf("assertion: missing bound parameter %q for %d placeholders", key, n)
		}
		args = append(args, v)
	}
	return args, nil
}

// Evaluate compares got against the compiled expectation.
func Evaluate(c *Compiled, got interface{}) (bool, error) {
	gotF, ok := toFloat(got)
	if !ok {
		return false, fmt.Errorf("assertion %q: result %v is not comparable", c.Name, got)
	}
	wantF, ok := toFloat(c.Want)
	if !ok {
		return false, fmt.Errorf("assertion %q: expected value %v is not comparable", c.Name, c.Want)
	}

	switch c.Op {
	case t2m.CmpEQ:
		return gotF == wantF, nil
	case t2m.CmpNE:
		return gotF != wantF, nil
	case t2m.CmpGT:
		return gotF > wantF, nil
	case t2m.CmpGE:
		return gotF >= wantF, nil
	case t2m.CmpLT:
		return gotF < wantF, nil
	case t2m.CmpLE:
		return gotF <= wantF, nil
	default:
		return false, fmt.Errorf("assertion %q: unknown comparison operator %q", c.Name, c.Op)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case nil:
		return 0, true
	default:
		return 0, false
	}
}
