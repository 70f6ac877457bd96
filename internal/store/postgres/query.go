package postgres

import (
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/telemgps/internal/domain"
)

// selectBuilder accumulates WHERE conditions and numbered placeholders for a
// single SELECT.
type selectBuilder struct {
	base  string
	conds []string
	args  []any
}

func newSelect(base string) *selectBuilder {
	return &selectBuilder{base: base}
}

// arg records v and returns its placeholder.
func (b *selectBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

// where adds "column op $n" for v.
func (b *selectBuilder) where(column, op string, v any) *selectBuilder {
	b.conds = append(b.conds, column+" "+op+" "+b.arg(v))
	return b
}

// window adds inclusive bounds on column for the non-nil ends.
func (b *selectBuilder) window(column string, since, until *time.Time) *selectBuilder {
	if since != nil {
		b.where(column, ">=", *since)
	}
	if until != nil {
		b.where(column, "<=", *until)
	}
	return b
}

// build renders the query with orderBy and the paging in opts.
func (b *selectBuilder) build(orderBy string, opts domain.ListOpts) (string, []any) {
	var sb strings.Builder
	sb.WriteString(b.base)
	if len(b.conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(b.conds, " AND "))
	}
	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy)
	if opts.Limit > 0 {
		sb.WriteString(" LIMIT " + b.arg(opts.Limit))
	}
	if opts.Offset > 0 {
		sb.WriteString(" OFFSET " + b.arg(opts.Offset))
	}
	if b.args == nil {
		b.args = []any{}
	}
	return sb.String(), b.args
}
