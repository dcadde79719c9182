package websvc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/AdguardTeam/golibs/httphdr"
	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/ssfun/ip-check/internal/ipchttp"
)

// API error codes.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnauthorized        = "UNAUTHORIZED"
	CodeTooManyRequests     = "TOO_MANY_REQUESTS"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
	CodeServiceUnavailable  = "SERVICE_UNAVAILABLE"
)

// apiError is the JSON shape of every non-2xx answer.
type apiError struct {
	Code       string `json:"code"`
	Err        string `json:"error"`
	Details    string `json:"details,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// writeJSON writes v as the JSON response body with the given status.
func (svc *Service) writeJSON(
	ctx context.Context,
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set(httphdr.ContentType, ipchttp.HdrValApplicationJSON)
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		svc.logger.DebugContext(ctx, "writing response", slogutil.KeyError, err)
	}
}

// writeError writes the uniform JSON error shape.
func (svc *Service) writeError(
	ctx context.Context,
	w http.ResponseWriter,
	status int,
	code string,
	msg string,
) {
	svc.writeJSON(ctx, w, status, &apiError{
		Code: code,
		Err:  msg,
	})
}

// writeInternalError collects err and answers 500.  Details are only
// included in development.
func (svc *Service) writeInternalError(
	ctx context.Context,
	w http.ResponseWriter,
	err error,
) {
	svc.errColl.Collect(ctx, err)
	svc.logger.ErrorContext(ctx, "unhandled error", slogutil.KeyError, err)

	resp := &apiError{
		Code: CodeInternalServerError,
		Err:  "internal server error",
	}
	if svc.environment == EnvDevelopment {
		resp.Details = err.Error()
	}

	svc.writeJSON(ctx, w, http.StatusInternalServerError, resp)
}

// recoverMiddleware turns panics in h into 500 answers.
func (svc *Service) recoverMiddleware(h http.Handler) (wrapped http.Handler) {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			v := recover()
			if v == nil {
				return
			}

			ctx := r.Context()
			err, ok := v.(error)
			if !ok {
				err = fmt.Errorf("panic: %v", v)
			}

			slogutil.PrintStack(ctx, svc.logger, slog.LevelError)
			svc.writeInternalError(ctx, w, err)
		}()

		h.ServeHTTP(w, r)
	})
}
