// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient returns a client whose every call is bounded by timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
	}
}
