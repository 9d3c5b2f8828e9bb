package middleware

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// EventStreamPath is the route of the server-sent event stream.
const EventStreamPath = "/api/v1/events"

// SecurityHeadersConfig configures SecurityHeaders.
type SecurityHeadersConfig struct {
	// EnableHSTS sends Strict-Transport-Security on plain HTTP, for
	// deployments behind a TLS terminating proxy.
	EnableHSTS bool
}

// SecurityHeaders sets the headers every API response carries. Views are
// live state and must not be cached. The event stream must reach the client
// unbuffered, so proxies are told not to buffer or transform it.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "no-referrer")
			// Responses are JSON or an event stream, never documents.
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")

			if r.TLS != nil || config.EnableHSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			if r.URL.Path == EventStreamPath {
				h.Set("Cache-Control", "no-cache, no-transform")
				h.Set("X-Accel-Buffering", "no")
			} else {
				h.Set("Cache-Control", "no-store")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// CORS lets browser dashboards on the allowed origins read the views and
// subscribe to the event stream. EventSource reconnects send Last-Event-ID,
// so it is an allowed request header.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if origin := r.Header.Get("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
			h.Set("Access-Control-Max-Age", "3600")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ValidateAllowedOrigins parses a comma-separated origin list into
// lower-cased scheme://host[:port] values without duplicates.
func ValidateAllowedOrigins(origins string) ([]string, error) {
	var validated []string
	seen := make(map[string]bool)

	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}

		u, err := url.Parse(origin)
		if err != nil {
			return nil, fmt.Errorf("invalid origin URL %q: %w", origin, err)
		}
		switch {
		case u.Scheme != "http" && u.Scheme != "https":
			return nil, fmt.Errorf("origin %q must use http or https scheme", origin)
		case u.Host == "":
			return nil, fmt.Errorf("origin %q must include a host", origin)
		case u.User != nil, u.RawQuery != "", u.Fragment != "", u.Path != "" && u.Path != "/":
			return nil, fmt.Errorf("origin %q must be scheme://host[:port] only", origin)
		}

		normalized := strings.ToLower(u.Scheme + "://" + u.Host)
		if !seen[normalized] {
			seen[normalized] = true
			validated = append(validated, normalized)
		}
	}

	return validated, nil
}

// MaxRequestSize limits request bodies to maxBytes. Zero or negative values
// disable the limit.
func MaxRequestSize(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if maxBytes <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
