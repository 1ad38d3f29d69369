package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common errors
var (
	// ErrNotConnected indicates that the pool is not connected to the database
	ErrNotConnected = errors.New("database pool is not connected")

	// ErrAlreadyConnected indicates that the pool is already connected
	ErrAlreadyConnected = errors.New("database pool is already connected")

	// ErrConnectionFailed indicates that connection to database failed
	ErrConnectionFailed = errors.New("failed to connect to database")

	// ErrConnectionClosed indicates that the connection pool is closed
	ErrConnectionClosed = errors.New("database connection pool is closed")

	// ErrHealthCheckFailed indicates that health check failed
	ErrHealthCheckFailed = errors.New("database health check failed")

	// ErrCircuitBreakerOpen indicates that circuit breaker is open
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

	// ErrInvalidConfig indicates that configuration is invalid
	ErrInvalidConfig = errors.New("invalid database configuration")

	// ErrQueryTimeout indicates that query execution timed out
	ErrQueryTimeout = errors.New("query execution timed out")

	// ErrTransactionFailed indicates that transaction failed
	ErrTransactionFailed = errors.New("database transaction failed")

	// ErrPreparedStatementFailed indicates that prepared statement creation failed
	ErrPreparedStatementFailed = errors.New("prepared statement creation failed")
)

// DatabaseError wraps a driver-level error with the PostgreSQL SQLSTATE
// code and the operation that produced it. It is only ever constructed
// by classifyPgError from a real *pgconn.PgError, so IsRetryable and
// IsConnectionError classify actual SQLSTATE codes the pool has seen,
// not a hypothetical taxonomy.
type DatabaseError struct {
	Code      string
	Message   string
	Severity  string
	Operation string
}

// Error implements the error interface
func (e *DatabaseError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("database error in %s [%s]: %s", e.Operation, e.Code, e.Message)
	}
	return fmt.Sprintf("database error [%s]: %s", e.Code, e.Message)
}

// retryableCodes are SQLSTATE codes for conditions that clear up on
// their own: lost connections, serialization conflicts, the server
// shedding load. A query rejected for a non-retryable reason (bad SQL,
// constraint violation) returns here with Code unset.
var retryableCodes = map[string]bool{
	"08006": true, // connection_failure
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
}

var connectionCodes = map[string]bool{
	"08000": true, // connection_exception
	"08001": true, // sqlclient_unable_to_establish_sqlconnection
	"08003": true, // connection_does_not_exist
	"08004": true, // sqlserver_rejected_establishment_of_sqlconnection
	"08006": true, // connection_failure
	"08007": true, // transaction_resolution_unknown
	"53300": true, // too_many_connections
}

// classifyPgError wraps a *pgconn.PgError surfaced by pgx as a
// DatabaseError tagged with operation, so RetryExecutor and the
// circuit breaker can tell a transient SQLSTATE from a query that will
// never succeed. Errors that aren't a *pgconn.PgError (context
// cancellation, network I/O failures before the server replies) pass
// through unchanged.
func classifyPgError(err error, operation string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	return &DatabaseError{
		Code:      pgErr.Code,
		Message:   pgErr.Message,
		Severity:  pgErr.Severity,
		Operation: operation,
	}
}

// IsConnectionError reports whether err (already run through
// classifyPgError, or one of this package's own sentinels) represents
// a lost or refused connection.
func IsConnectionError(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return connectionCodes[dbErr.Code]
	}
	return errors.Is(err, ErrConnectionFailed) || errors.Is(err, ErrConnectionClosed) || errors.Is(err, ErrNotConnected)
}

// IsTimeout reports whether err represents a context deadline or the
// package's own query-timeout sentinel. pgx surfaces a cancelled
// connectCtx/query context as context.DeadlineExceeded, not a
// SQLSTATE, so there is no PgError code to classify here.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrQueryTimeout)
}

// IsRetryable reports whether operation is worth another attempt:
// a known-transient SQLSTATE, a dropped connection, or a timeout.
// A circuit breaker in StateOpen (ErrCircuitBreakerOpen) is
// deliberately excluded - retrying immediately would defeat the
// breaker's purpose.
func IsRetryable(err error) bool {
	var dbErr *DatabaseError
	if errors.As(err, &dbErr) {
		return retryableCodes[dbErr.Code]
	}
	return IsConnectionError(err) || IsTimeout(err)
}
