package pipeline

import (
	"net"
	"net/http"
	"time"
)

// NewPooledHTTPClient builds the shared client used by the boundary
// adapters. poolSize caps idle connections, sized to the session limit so
// concurrent sessions reuse connections instead of redialing per request.
// timeout bounds the whole request including body reads, so streaming
// clients pass a generous one and cancel early via context.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			ForceAttemptHTTP2:     true,
		},
	}
}
