package health

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"hookforms/backend/internal/monitoring"
)

func serve(h http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	return w
}

func TestProbes(t *testing.T) {
	ok := monitoring.PingFunc(func(context.Context) error { return nil })
	down := monitoring.PingFunc(func(context.Context) error { return errors.New("refused") })

	t.Run("依赖可用时就绪", func(t *testing.T) {
		p := NewProbes(map[string]monitoring.Pinger{"database": ok, "redis": ok}, nil)
		assert.Equal(t, http.StatusOK, serve(p.ReadyHandler()).Code)
		assert.Equal(t, http.StatusOK, serve(p.LiveHandler()).Code)
	})

	t.Run("依赖不可用时未就绪但仍存活", func(t *testing.T) {
		p := NewProbes(map[string]monitoring.Pinger{"database": ok, "redis": down}, nil)
		assert.Equal(t, http.StatusServiceUnavailable, serve(p.ReadyHandler()).Code)
		assert.Equal(t, http.StatusOK, serve(p.LiveHandler()).Code)
	})
}
