package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"github.com/lib/pq"
)

var (
	// ErrTransient marks connectivity and timeout failures. The operation can
	// be retried as a whole.
	ErrTransient = errors.New("transient store error")

	// ErrIntegrity marks constraint violations and malformed data. Retrying
	// will fail the same way.
	ErrIntegrity = errors.New("data integrity violation")
)

// classify wraps err with op and, when recognizable, with ErrTransient or
// ErrIntegrity.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case isIntegrity(err):
		return fmt.Errorf("%s: %w: %w", op, ErrIntegrity, err)
	case isTransient(err):
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func isIntegrity(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		// 23: integrity_constraint_violation, 22: data_exception
		class := pqErr.Code.Class()
		return class == "23" || class == "22"
	}
	return false
}

func isTransient(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", // connection_exception
			"40", // transaction_rollback: serialization failure, deadlock
			"53", // insufficient_resources
			"57": // operator_intervention: admin shutdown, query canceled by timeout
			return true
		}
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
