package router_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shashiranjanraj/appshell/pkg/router"
)

func text(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { _, _ = io.WriteString(w, body) }
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestSpecificPrefixBeatsCatchAll(t *testing.T) {
	r := router.New()
	// Catch-all registered first on purpose: matching must not depend on order.
	r.Get("/*", "catchall", text("view"))
	r.Get("/assets/*", "assets", text("assets"))
	r.Get("/", "home", text("home"))

	tests := map[string]string{
		"/":                "home",
		"/assets/app.js":   "assets",
		"/assets/a/b.css":  "assets",
		"/assetsx":         "view",
		"/deep/client/url": "view",
	}
	for path, want := range tests {
		_, body := get(t, r.Handler(), path)
		assert.Equal(t, want, body, path)
	}
}

func TestRoutesKeepsRegistrationOrder(t *testing.T) {
	r := router.New()
	r.Get("/", "home", text(""))
	r.Get("public/js/*", "", text(""))
	r.Handle(http.MethodOptions, "/assets/*", "assets.preflight", text(""))

	assert.Equal(t, []router.RouteInfo{
		{Method: "GET", Path: "/", Name: "home"},
		{Method: "GET", Path: "/public/js/*", Name: ""},
		{Method: "OPTIONS", Path: "/assets/*", Name: "assets.preflight"},
	}, r.Routes())
}

func TestMiddlewareOrder(t *testing.T) {
	var order []string
	mw := func(tag string) router.Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, tag)
				next.ServeHTTP(w, r)
			})
		}
	}

	r := router.New()
	r.Use(mw("global"))
	r.Get("/c", "c", text("ok"), mw("first"), mw("second"))

	code, _ := get(t, r.Handler(), "/c")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"global", "first", "second"}, order)
}
