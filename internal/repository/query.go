package repository

import (
	"database/sql"
	"strings"
	"time"
)

// where collects AND-ed conditions and their positional arguments.
type where struct {
	conds []string
	args  []any
}

func (w *where) eq(col string, v any) {
	w.conds = append(w.conds, col+" = ?")
	w.args = append(w.args, v)
}

// between bounds col inclusively; a zero time leaves that side open.
func (w *where) between(col string, from, to time.Time) {
	if !from.IsZero() {
		w.conds = append(w.conds, col+" >= ?")
		w.args = append(w.args, from.UTC())
	}
	if !to.IsZero() {
		w.conds = append(w.conds, col+" <= ?")
		w.args = append(w.args, to.UTC())
	}
}

func (w *where) sql(base string) string {
	if len(w.conds) == 0 {
		return base
	}
	return base + " WHERE " + strings.Join(w.conds, " AND ")
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}
