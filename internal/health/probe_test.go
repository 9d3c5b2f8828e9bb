package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/client-go/rest"
)

func TestRESTReadinessProber(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		wantErr error
	}{
		{
			name: "readyz ok",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/readyz" {
					_, _ = w.Write([]byte("ok"))
					return
				}
				w.WriteHeader(http.StatusInternalServerError)
			},
		},
		{
			name: "falls back to healthz",
			handler: func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path == "/healthz" {
					_, _ = w.Write([]byte("ok"))
					return
				}
				http.NotFound(w, r)
			},
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantErr: ErrUnreachable,
		},
		{
			name:    "both endpoints missing",
			handler: http.NotFound,
			wantErr: ErrUnreachable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			prober, err := NewRESTReadinessProber("dev", &rest.Config{Host: srv.URL})
			require.NoError(t, err)

			err = prober.ProbeReady(context.Background())
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRESTReadinessProber_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	prober, err := NewRESTReadinessProber("slow", &rest.Config{Host: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = prober.ProbeReady(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProbeTimeout)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestRESTReadinessProber_UntrustedCertificate(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	prober, err := NewRESTReadinessProber("tls", &rest.Config{Host: srv.URL})
	require.NoError(t, err)

	err = prober.ProbeReady(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTLSHandshakeFailed)

	var tlsErr *TLSError
	require.ErrorAs(t, err, &tlsErr)
	assert.Equal(t, "certificate signed by unknown authority", tlsErr.Reason)
}

func TestRESTReadinessProber_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	prober, err := NewRESTReadinessProber("dev", &rest.Config{Host: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	err = prober.ProbeReady(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewRESTReadinessProber_NilConfig(t *testing.T) {
	_, err := NewRESTReadinessProber("dev", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestWrapProbeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want any
	}{
		{"deadline", context.DeadlineExceeded, &ProbeTimeoutError{}},
		{"x509", errors.New("x509: certificate has expired or is not yet valid"), &TLSError{}},
		{"io timeout", errors.New("dial tcp: i/o timeout"), &ProbeTimeoutError{}},
		{"refused", errors.New("dial tcp 10.0.0.1:6443: connect: connection refused"), &ConnectionError{}},
		{"cancelled", fmt.Errorf("get: %w", context.Canceled), &ConnectionError{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := wrapProbeError("dev", "https://10.0.0.1:6443", "readiness check failed", tt.err)
			assert.IsType(t, tt.want, err)
			assert.ErrorIs(t, err, ErrUnreachable)
			assert.NotContains(t, err.Error(), "(https://10.0.0.1:6443)")
		})
	}
}

func TestUserFacingError(t *testing.T) {
	assert.Empty(t, UserFacingError(nil))
	assert.Equal(t, "plain", UserFacingError(errors.New("plain")))

	err := fmt.Errorf("probe: %w", &TLSError{ContextName: "dev", Reason: "certificate has expired"})
	assert.Equal(t, "cluster certificate has expired", UserFacingError(err))
}
