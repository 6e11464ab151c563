package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
)

// InsertRecord inserts values into table and returns the generated id.
// Column names are the map keys.
func (s *Store) InsertRecord(ctx context.Context, table string, values map[string]any) (string, error) {
	query, args, err := buildInsert(table, values)
	if err != nil {
		return "", err
	}

	var id string
	if err := s.db.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", fmt.Errorf("insert %s: %w", table, err)
	}
	return id, nil
}

// FindID returns the id of the first row of table matching where.
func (s *Store) FindID(ctx context.Context, table string, where map[string]any) (string, bool, error) {
	cond, args := buildWhere(where)
	query := fmt.Sprintf("SELECT id::text FROM %s%s LIMIT 1", pgx.Identifier{table}.Sanitize(), cond)

	var id string
	err := s.db.QueryRow(ctx, query, args...).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("find %s: %w", table, err)
	}
	return id, true, nil
}

// Exists reports whether table has a row matching where.
func (s *Store) Exists(ctx context.Context, table string, where map[string]any) (bool, error) {
	cond, args := buildWhere(where)
	query := fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s%s)", pgx.Identifier{table}.Sanitize(), cond)

	var exists bool
	if err := s.db.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return exists, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// buildInsert returns an INSERT ... RETURNING id statement with columns in
// sorted order so statements are cacheable.
func buildInsert(table string, values map[string]any) (string, []any, error) {
	if len(values) == 0 {
		return "", nil, fmt.Errorf("insert %s: no values", table)
	}

	keys := sortedKeys(values)
	cols := make([]string, len(keys))
	params := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = pgx.Identifier{k}.Sanitize()
		params[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[k]
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id::text",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(cols, ", "),
		strings.Join(params, ", "),
	)
	return query, args, nil
}

// buildWhere returns a WHERE clause with a leading space, or "" for an
// empty map. Nil values match NULL.
func buildWhere(where map[string]any) (string, []any) {
	if len(where) == 0 {
		return "", nil
	}

	var conds []string
	var args []any
	for _, k := range sortedKeys(where) {
		col := pgx.Identifier{k}.Sanitize()
		if where[k] == nil {
			conds = append(conds, col+" IS NULL")
			continue
		}
		args = append(args, where[k])
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
