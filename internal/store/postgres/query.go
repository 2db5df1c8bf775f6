package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/parimutuel/internal/domain"
)

// where accumulates AND-ed predicates with positional arguments.
type where struct {
	conds []string
	args  []any
}

func newWhere() *where {
	return &where{}
}

// add appends a predicate; the single %s in cond becomes the next $n.
func (w *where) add(cond string, arg any) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(cond, fmt.Sprintf("$%d", len(w.args))))
}

// window restricts col to the Since/Until bounds of opts (both inclusive).
func (w *where) window(col string, opts domain.ListOpts) {
	if opts.Since != nil {
		w.add(col+" >= %s", *opts.Since)
	}
	if opts.Until != nil {
		w.add(col+" <= %s", *opts.Until)
	}
}

func (w *where) sql() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

// page appends LIMIT/OFFSET arguments and returns the clause. It must be
// called after every add.
func (w *where) page(opts domain.ListOpts) string {
	var b strings.Builder
	if opts.Limit > 0 {
		w.args = append(w.args, opts.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(w.args))
	}
	if opts.Offset > 0 {
		w.args = append(w.args, opts.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(w.args))
	}
	return b.String()
}
