package repository

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a conditional update finds the row in a
	// state other than the expected one; another writer got there first.
	ErrConflict = errors.New("conflict: row not in expected state")
	// ErrDuplicate is returned on unique-constraint violations.
	ErrDuplicate = errors.New("duplicate")
	// ErrNoCapacity is returned when a job has no free tester slot left.
	ErrNoCapacity = errors.New("no capacity left")
)

const pgUniqueViolation = "23505"

// Translate maps driver errors onto the package's sentinel errors.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrDuplicate
	}
	return err
}

// ExpectOne turns a zero-row conditional update into ErrConflict.
func ExpectOne(tag pgconn.CommandTag, err error) error {
	if err != nil {
		return Translate(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}
