package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
)

var (
	// ErrAlreadyExists reports a unique index violation, such as a second
	// message with the same sequence in one session.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict reports that a concurrent write touched the same
	// records. Writes retry it through retryConflicts.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// queryErrorKinds maps fragments of SurrealDB query error messages to sentinels.
var queryErrorKinds = []struct {
	fragment string
	sentinel error
}{
	{"already exists", ErrAlreadyExists},
	{"already contains", ErrAlreadyExists},
	{"Transaction conflict", ErrTransactionConflict},
}

// Conflict retry schedule. Tests shorten conflictBackoff.
var (
	conflictAttempts = 3
	conflictBackoff  = 50 * time.Millisecond
)

// wrapQueryError tags known SurrealDB query errors with a sentinel. Other
// errors are returned unchanged.
func wrapQueryError(err error) error {
	var queryErr *surrealdb.QueryError
	if !errors.As(err, &queryErr) {
		return err
	}
	for _, k := range queryErrorKinds {
		if strings.Contains(queryErr.Message, k.fragment) {
			return fmt.Errorf("%w: %s", k.sentinel, queryErr.Message)
		}
	}
	return err
}

// retryConflicts runs write until it succeeds, fails with anything but a
// transaction conflict, or runs out of attempts. The returned error is wrapped
// by wrapQueryError.
func retryConflicts(ctx context.Context, write func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		err = wrapQueryError(write())
		if !errors.Is(err, ErrTransactionConflict) || attempt >= conflictAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * conflictBackoff):
		}
	}
}
