package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/psantana5/physician/pkg/auth"
	"github.com/psantana5/physician/pkg/metrics"
	"github.com/psantana5/physician/pkg/middleware"
	"github.com/psantana5/physician/pkg/ratelimit"
	"github.com/psantana5/physician/pkg/tracing"
)

// openPaths never require an API key
var openPaths = []string{"/", "/health", "/metrics"}

// Middleware selects the wrappers applied around the router. Nil fields are skipped.
type Middleware struct {
	CORSOrigins []string
	Tracer      *tracing.Provider
	Metrics     *metrics.Metrics
	Limiter     *ratelimit.Limiter // applied to POST /verify only
	Auth        *auth.KeyRing
}

// NewRouter registers h's routes and wraps them, outermost first, in request
// ID, panic recovery, CORS, tracing, metrics, rate limiting and auth.
func NewRouter(h *Handler, m Middleware) http.Handler {
	r := mux.NewRouter()
	h.RegisterRoutes(r)

	var handler http.Handler = r
	if m.Auth != nil {
		handler = m.Auth.Middleware(openPaths...)(handler)
	}
	if m.Limiter != nil {
		handler = verifyOnly(m.Limiter.Middleware(ratelimit.IPKeyFunc)(handler), handler)
	}
	if m.Metrics != nil {
		handler = m.Metrics.Middleware(handler)
	}
	if m.Tracer != nil {
		handler = tracing.HTTPMiddleware(m.Tracer)(handler)
	}
	if len(m.CORSOrigins) > 0 {
		handler = middleware.CORS(m.CORSOrigins)(handler)
	}
	handler = middleware.Recover(handler)
	return middleware.RequestID(handler)
}

func verifyOnly(limited, plain http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == "/verify" {
			limited.ServeHTTP(w, r)
			return
		}
		plain.ServeHTTP(w, r)
	})
}
