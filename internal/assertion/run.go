package assertion

import (
	"context"
	"database/sql"
	"fmt"
)

// Result is the outcome of running one compiled assertion.
type Result struct {
	Name    string
	Passed  bool
	Got     interface{}
	Want    interface{}
	Op      string
	Err     error
}

// Run executes c.SQL against db and compares the scalar result to c.Want.
func Run(ctx context.Context, db *sql.DB, c *Compiled) Result {
	var got interface{}
	row := db.QueryRowContext(ctx, c.SQL, c.Args...)
	if err := row.Scan(&got); err != nil {
		return Result{Name: c.Name, Err: fmt.Errorf("assertion %q: query failed: %w", c.Name, err), Op: string(c.Op), Want: c.Want}
	}

	passed, err := Evaluate(c, normalizeScanned(got))
	if err != nil {
		return Result{Name: c.Name, Err: err, Op: string(c.Op), Want: c.Want}
	}
	return Result{Name: c.Name, Passed: passed, Got: got, Want: c.Want, Op: string(c.Op)}
}

// normalizeScanned coerces the driver-returned value (often int64 for
// COUNT(*), []byte for SUM on some drivers) into a float64-comparable type.
func normalizeScanned(v interface{}) interface{} {
	switch n := v.(type) {
	case []byte:
		var f float64
		_, err := fmt.Sscanf(string(n), "%g", &f)
		if err != nil {
			return v
		}
		return f
	default:
		return v
	}
}
