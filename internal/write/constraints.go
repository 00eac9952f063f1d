package write

import (
	"fmt"
	"strings"

	"github.com/cuemby/warrensql/internal/cluster"
	"github.com/cuemby/warrensql/internal/errkind"
)

// schemaFor finds the constraint model for rel: every partition index
// of a relation shares the same column schema, so any one of them
// will do. Returns false if the relation has no index yet (a brand
// new partitioned table awaiting its first auto-create), in which
// case there is nothing to validate against.
func schemaFor(state cluster.State, rel cluster.RelationName) (cluster.IndexMetadata, bool) {
	indices := state.Metadata.IndicesOf(rel)
	if len(indices) == 0 {
		return cluster.IndexMetadata{}, false
	}
	return indices[0], true
}

// validateConstraints implements §4.E step 9: evaluate pre-insert
// constraints — unique primary key, check constraints, NOT NULL, and
// generated-column determinism — before the row is placed on any
// shard or reaches a ShardedRequest. seenPrimaryKeys accumulates
// primary-key tuples already seen within this Group call, so a
// duplicate key is caught entirely in memory, before any IO.
func validateConstraints(meta cluster.IndexMetadata, row Row, seenPrimaryKeys map[string]struct{}) error {
	if len(meta.Columns) == 0 {
		return nil
	}

	var pkParts []string
	for i, col := range meta.Columns {
		var value any
		if i < len(row.Values) {
			value = row.Values[i]
		}

		if col.Generated {
			if !col.GeneratedDeterministic {
				return errkind.Validationf("column %s: generated column expression is not deterministic", col.Name)
			}
			continue
		}

		if col.NotNull && value == nil {
			return errkind.Validationf("column %s: NOT NULL violation", col.Name)
		}

		if col.PrimaryKey {
			pkParts = append(pkParts, fmt.Sprintf("%v", value))
		}

		if err := checkConstraint(col, value); err != nil {
			return err
		}
	}

	if len(pkParts) > 0 {
		key := strings.Join(pkParts, "\x1f")
		if _, dup := seenPrimaryKeys[key]; dup {
			return errkind.Validationf("primary key (%s) duplicated within batch", strings.Join(pkParts, ", "))
		}
		seenPrimaryKeys[key] = struct{}{}
	}

	return nil
}

func checkConstraint(col cluster.ColumnConstraint, value any) error {
	if col.CheckOp == cluster.CheckNone {
		return nil
	}
	n, ok := numeric(value)
	if !ok {
		return errkind.Validationf("column %s: check constraint requires a numeric value, got %T", col.Name, value)
	}

	var satisfied bool
	switch col.CheckOp {
	case cluster.CheckGT:
		satisfied = n > col.CheckOperand
	case cluster.CheckGTE:
		satisfied = n >= col.CheckOperand
	case cluster.CheckLT:
		satisfied = n < col.CheckOperand
	case cluster.CheckLTE:
		satisfied = n <= col.CheckOperand
	case cluster.CheckNE:
		satisfied = n != col.CheckOperand
	}
	if !satisfied {
		return errkind.Validationf("column %s: check constraint (%s %v) violated by %v", col.Name, col.CheckOp, col.CheckOperand, value)
	}
	return nil
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
