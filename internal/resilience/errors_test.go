package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("invalid input: missing field"), false},
		{"marked transient", NewTransientError(errors.New("server overloaded"), 503), true},
		{"wrapped transient", fmt.Errorf("scrape api: %w", NewTransientError(errors.New("rate limited"), 429)), true},
		{"connection reset", fmt.Errorf("write tcp: %w", syscall.ECONNRESET), true},
		{"connection refused", fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED), true},
		{"connection aborted", fmt.Errorf("read tcp: %w", syscall.ECONNABORTED), true},
		{"dns timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"reset message", errors.New("connection reset by peer"), true},
		{"broken pipe message", errors.New("broken pipe"), true},
		{"tls message", errors.New("TLS handshake timeout"), true},
		{"io timeout message", errors.New("i/o timeout"), true},
		{"idle connection message", errors.New("server closed idle connection"), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
	for _, code := range []int{200, 201, 400, 401, 403, 404, 405, 409, 422} {
		assert.False(t, IsTransientHTTPStatus(code), "HTTP %d", code)
	}
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	inner := errors.New("root cause")
	te := NewTransientError(inner, 500)

	assert.ErrorIs(t, te, inner, "unwraps to the inner error")
	assert.Equal(t, 500, te.StatusCode)
	assert.Equal(t, "root cause", te.Error())
}
