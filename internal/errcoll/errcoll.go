// Package errcoll contains implementations of error collectors, most notably
// Sentry.
package errcoll

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
)

// Interface is the interface for error collectors that process information
// about errors, possibly sending them to a remote location.
type Interface interface {
	Collect(ctx context.Context, err error)
}

// Collect is a helper for reporting non-critical errors.  It writes the
// resulting error into the log and also into errColl.
func Collect(ctx context.Context, errColl Interface, l *slog.Logger, msg string, err error) {
	err = fmt.Errorf("%s: %w", msg, err)
	l.ErrorContext(ctx, msg, slogutil.KeyError, err)
	errColl.Collect(ctx, err)
}
