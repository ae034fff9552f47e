package pipeline

import (
	"net/http"
	"time"
)

// NewPooledHTTPClient creates an http.Client shared by all sessions' calls to
// one backend. poolSize bounds idle keep-alive connections per host.
func NewPooledHTTPClient(poolSize int, timeout time.Duration) *http.Client {
	if poolSize < 1 {
		poolSize = 1
	}
	headerTimeout := 30 * time.Second
	if timeout > 0 && timeout < headerTimeout {
		headerTimeout = timeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          poolSize,
			MaxIdleConnsPerHost:   poolSize,
			IdleConnTimeout:       90 * time.Second,
			ResponseHeaderTimeout: headerTimeout,
			ForceAttemptHTTP2:     true,
		},
	}
}
