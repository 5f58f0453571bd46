package figshare

import (
	"fmt"
	"net/http"
)

// TransportError is returned when a request got no HTTP response at all
// (DNS failure, refused or reset connection, timeout, cancellation).
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is returned for a non-2xx response, or for a 2xx response whose
// body lacks a field the protocol needs (Reason is set in that case).
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
	Reason     string
}

func (e *HTTPError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Reason)
	}
	return fmt.Sprintf("%s %s: HTTP %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

// IntegrityError reports that local data and the server's view of it disagree.
type IntegrityError struct {
	// PartNo is the manifest part the error refers to, 0 if none.
	PartNo int
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.PartNo > 0 {
		return fmt.Sprintf("integrity check failed for part %d: %s", e.PartNo, e.Reason)
	}
	return fmt.Sprintf("integrity check failed: %s", e.Reason)
}
