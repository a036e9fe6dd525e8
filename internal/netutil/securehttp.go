// Package netutil provides the hardened HTTP client shared by the catalog
// fetcher and the ESD downloader.
package netutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// NewSecureHTTPClient returns an http.Client with conservative TLS and
// timeout settings suitable for fetching catalog CABs and multi-gigabyte
// ESD archives over plain HTTPS.
func NewSecureHTTPClient() *http.Client {
	base := http.DefaultTransport.(*http.Transport).Clone()

	base.DialContext = (&net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext

	base.TLSHandshakeTimeout = 10 * time.Second
	base.ResponseHeaderTimeout = 15 * time.Second
	base.ExpectContinueTimeout = 1 * time.Second
	base.IdleConnTimeout = 90 * time.Second
	base.ForceAttemptHTTP2 = true

	base.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
		MaxVersion: tls.VersionTLS13,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		},
	}

	return &http.Client{
		Transport: base,
		// No end-to-end timeout: ESD downloads run into the gigabytes and
		// legitimately take longer than a fixed deadline; only the dial,
		// TLS-handshake and response-header timeouts above apply.
	}
}

// ShouldRetryStatus reports whether an HTTP status code represents a
// transient failure worth retrying, matching the pack's download-retry
// classification.
func ShouldRetryStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusRequestTimeout,
		http.StatusTooEarly,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
