// Package httpapi implements the REST control surface on the standard
// library's http.ServeMux, deliberately avoiding a third-party router
// now that Go's mux supports method + path-pattern routing natively.
package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps http.ServeMux so handler registration stays uniform
// with the rest of the pack's HTTP services.
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

// NewRouter returns an empty Router.
func NewRouter(logger *zap.Logger) *Router {
	return &Router{mux: http.NewServeMux(), logger: logger}
}

// Handle registers a pattern with its handler.
func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}
