package ipchttp

import (
	"fmt"
	"net/http"

	"github.com/AdguardTeam/golibs/httphdr"
)

// StatusError is returned by methods when the HTTP status code is different
// from the expected one.
type StatusError struct {
	ServerName string
	Body       string
	Expected   int
	Got        int
}

// type check
var _ error = (*StatusError)(nil)

// Error implements the error interface for *StatusError.
func (err *StatusError) Error() (msg string) {
	return fmt.Sprintf(
		"status code error: expected %d, got %d: %s",
		err.Expected,
		err.Got,
		err.Body,
	)
}

// CheckStatus returns a non-nil *StatusError with the data from resp if the
// status code in resp is not equal to expected.  resp must not be nil.  body
// is included into the error message for diagnostics.
func CheckStatus(resp *http.Response, body []byte, expected int) (err error) {
	if resp.StatusCode == expected {
		return nil
	}

	return &StatusError{
		ServerName: resp.Header.Get(httphdr.Server),
		Body:       string(body),
		Expected:   expected,
		Got:        resp.StatusCode,
	}
}
