package panel

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient returns the client used for panel calls. Certificate
// verification is disabled: panels serve self-signed certificates.
// A zero timeout leaves deadlines to the caller's context.
func NewHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed panel certificates
	return &http.Client{Transport: transport, Timeout: timeout}
}
