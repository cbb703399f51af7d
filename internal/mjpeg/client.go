package mjpeg

import (
	"context"
	"net"
	"net/http"
	"time"
)

const (
	// DefaultRequestTimeout bounds dialing and waiting for response headers.
	DefaultRequestTimeout = 60 * time.Second
	// DefaultKeepAlive is the TCP keepalive period.
	DefaultKeepAlive = 30 * time.Second

	acceptHeader = "multipart/x-mixed-replace; boundary=--BoundaryString"
)

// NewClient builds the HTTP client shared by every session of a stream.
//
// http.Client.Timeout is left at zero: it would also bound reading the body
// and cut an otherwise healthy stream. The request timeout is applied to the
// dial and response-header phases instead.
func NewClient(requestTimeout, keepAlive time.Duration) *http.Client {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}

	dialer := &net.Dialer{
		Timeout:   requestTimeout,
		KeepAlive: keepAlive,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ResponseHeaderTimeout: requestTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConnsPerHost:   1,
		// The stream body is image data; transparent gzip would only cost CPU.
		DisableCompression: true,
	}

	return &http.Client{Transport: transport}
}

// newStreamRequest builds the GET request for one session.
func newStreamRequest(ctx context.Context, url string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Connection", "keep-alive")
	req.Header.Set("Keep-Alive", "timeout=300")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	return req, nil
}
