package database

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// IsConnectionError reports whether err means the database is unreachable
// rather than the query being wrong, so handlers can answer 503 instead of
// blaming the request.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, sql.ErrTxDone) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, probe := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"broken pipe",
		"bad connection",
		"database is closed",
	} {
		if strings.Contains(msg, probe) {
			return true
		}
	}
	return false
}
