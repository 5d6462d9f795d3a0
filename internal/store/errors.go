package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/sells-group/market-signals/internal/model"
	"github.com/sells-group/market-signals/internal/resilience"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// isUniqueViolation reports whether err is a unique-constraint failure from
// either backend.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

// isTransientPg reports connection-class, serialization and resource
// SQLSTATEs.
func isTransientPg(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "08"): // connection exception
		return true
	case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization, deadlock
		return true
	case pgErr.Code == "53300", pgErr.Code == "57P01", pgErr.Code == "57P03":
		return true
	}
	return false
}

// classify maps a driver error onto the resilience taxonomy. key names the
// row on unique violations; op names the operation otherwise.
func classify(err error, op, key string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return resilience.NewConflictError(key, err)
	}
	if isTransientPg(err) || resilience.IsTransient(err) {
		return resilience.NewTransientError(op, err)
	}
	return eris.Wrap(err, op)
}

// errSnapshotExists is the cause carried by snapshot insert conflicts.
var errSnapshotExists = errors.New("analytics snapshot already exists")

func snapshotConflict(key string) error {
	return resilience.NewConflictError(key, errSnapshotExists)
}

// ErrBaselineMoved is the cause of the ConflictError returned when another
// writer appended to a pricing page after the caller read its baseline.
var ErrBaselineMoved = errors.New("pricing baseline moved")

// checkBaseline fails unless latest is the snapshot the caller diffed
// against. An empty baselineID expects no usable snapshot yet.
func checkBaseline(snap, latest *model.PricingSnapshot, baselineID string) error {
	got := ""
	if latest != nil {
		got = latest.ID
	}
	if got == baselineID {
		return nil
	}
	return resilience.NewConflictError(pageLockKey(snap.CompanyID, snap.SourceURL),
		eris.Wrapf(ErrBaselineMoved, "expected %q, found %q", baselineID, got))
}

// pageLockKey identifies one pricing page series.
func pageLockKey(companyID, sourceURL string) string {
	return companyID + "|" + sourceURL
}

func notificationConflict(id string, from model.NotificationStatus) error {
	return resilience.NewConflictError(id, eris.Errorf("notification status is no longer %s", from))
}

// isUndefinedTable reports SQLSTATE 42P01.
func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P01"
}
