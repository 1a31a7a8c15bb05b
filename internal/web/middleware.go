package web

import "net/http"

// SecurityHeaders defines the headers applied to HTTP responses.
// Transport-level headers (HSTS and friends) are expected from the
// reverse proxy; only application-level policy lives here.
type SecurityHeaders struct {
	CSP                 string
	XContentTypeOptions string
	XFrameOptions       string
}

// APISecurityHeaders returns the restrictive policy for JSON endpoints.
func APISecurityHeaders() *SecurityHeaders {
	return &SecurityHeaders{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XContentTypeOptions: "nosniff",
		XFrameOptions:       "DENY",
	}
}

// Apply writes the configured headers to one response.
func (sh *SecurityHeaders) Apply(w http.ResponseWriter) {
	if sh.CSP != "" {
		w.Header().Set("Content-Security-Policy", sh.CSP)
	}
	if sh.XContentTypeOptions != "" {
		w.Header().Set("X-Content-Type-Options", sh.XContentTypeOptions)
	}
	if sh.XFrameOptions != "" {
		w.Header().Set("X-Frame-Options", sh.XFrameOptions)
	}
}

// SecureAPIHandlerFunc wraps a handler so API security headers are
// always applied first.
func SecureAPIHandlerFunc(handlerFunc http.HandlerFunc) http.HandlerFunc {
	headers := APISecurityHeaders()
	return func(w http.ResponseWriter, r *http.Request) {
		headers.Apply(w)
		handlerFunc(w, r)
	}
}
