package observability

import (
	"net"
	"net/http"
	"strings"
)

// Request-metadata helpers for the relay's websocket handshake. The
// values feed the ConnInfo audit record and the AMQP event headers.

// ClientDeviceID reads the device identifier the client handshake
// carries, empty when absent.
func ClientDeviceID(r *http.Request) string {
	return r.Header.Get("X-Device-Id")
}

// ClientRequestID reads the upstream request id, empty when absent.
func ClientRequestID(r *http.Request) string {
	return r.Header.Get("X-Request-Id")
}

// ClientIP resolves the originating address: first hop of
// X-Forwarded-For when a proxy fronts the relay, the peer address
// otherwise.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
