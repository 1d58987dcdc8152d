package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "10.0.0.9:52110"

	assert.Equal(t, "10.0.0.9", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", ClientIP(r))
}

func TestEventHeadersOmitEmptyValues(t *testing.T) {
	assert.Empty(t, EventHeaders("", ""))

	headers := EventHeaders("req-1", "trace-1")
	assert.Equal(t, "req-1", headers["x-request-id"])
	assert.Equal(t, "trace-1", headers["trace_id"])
}
