package repo

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Tx is the subset of pgx behaviour shared by *pgxpool.Pool and pgx.Tx.
// Repositories accept it so the same query runs inside or outside a transaction.
type Tx interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Join concatenates the non-empty query parts with a single space.
func Join(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// JoinWhere renders a WHERE clause with every expression ANDed, or "" when empty.
func JoinWhere(expressions ...string) string {
	if len(expressions) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(expressions, " AND ")
}

// FormatLimitOffset renders LIMIT/OFFSET, omitting non-positive values.
func FormatLimitOffset(limit, offset int) string {
	var parts []string
	if limit > 0 {
		parts = append(parts, fmt.Sprintf("LIMIT %d", limit))
	}
	if offset > 0 {
		parts = append(parts, fmt.Sprintf("OFFSET %d", offset))
	}
	return strings.Join(parts, " ")
}

// Args accumulates positional query arguments and hands out their placeholders.
type Args struct {
	values []any
}

// Add appends v and returns its placeholder ("$1", "$2", ...).
func (a *Args) Add(v any) string {
	a.values = append(a.values, v)
	return fmt.Sprintf("$%d", len(a.values))
}

func (a *Args) Values() []any {
	return a.values
}

func (a *Args) Len() int {
	return len(a.values)
}
