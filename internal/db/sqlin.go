package db

import "github.com/jmoiron/sqlx"

// sqlxIn is a thin alias over sqlx.In kept local to this package so callers
// don't need to import sqlx directly just to expand a slice bind-param.
func sqlxIn(query string, args ...any) (string, []any, error) {
	return sqlx.In(query, args...)
}
