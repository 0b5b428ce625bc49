package repository

import "database/sql"

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting repository methods
// run standalone or bracketed inside a caller-managed transaction, per
// spec.md §4.4/§5's "composed inside an application-level transaction"
// requirement for the Scanner's multi-row persist sequence.
type dbtx interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}
