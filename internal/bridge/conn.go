// conn.go — connection helpers: error classification, health checks, HTTP transport.
package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// IsConnectionError returns true if the error indicates the bridge process
// is unreachable (as opposed to a protocol or application-level failure).
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

// IsServerRunning checks whether the bridge's health endpoint answers 200
// on the given port, using client (expected to carry a short timeout).
func IsServerRunning(client *http.Client, port int) bool {
	resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d/health", port))
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// WaitForServer polls the bridge's health endpoint until it answers or
// timeout elapses.
func WaitForServer(client *http.Client, port int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if IsServerRunning(client, port) {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// DoHTTP sends a raw JSON payload to the bridge and returns the HTTP response.
// The caller must provide a context that outlives the response body read.
func DoHTTP(ctx context.Context, client *http.Client, endpoint string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return client.Do(httpReq)
}
