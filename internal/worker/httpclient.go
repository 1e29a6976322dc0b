package worker

import (
	"net"
	"net/http"
	"time"
)

const (
	ConnectTimeout = 20 * time.Second
	ReadTimeout    = 50 * time.Second

	UserAgent = "pushhub/1.0"
)

// NewHTTPClient returns the client used for calls to subscriber callbacks.
// Redirects are not followed: a 3xx is an answer in its own right.
func NewHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		// Upper bound for connect, writing the body and reading the answer.
		Timeout: connectTimeout + 2*readTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}
