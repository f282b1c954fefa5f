package approuters

import (
	"Parley/internal/hub"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestSocketHandlerRequiresUserID(t *testing.T) {
	h := hub.NewHub(hub.Dependencies{}, zap.NewNop(), nil)
	t.Cleanup(h.Stop)
	srv := SocketHandler(h, "ws")

	w := httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without userId, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	srv.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/other", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 off the socket route, got %d", w.Code)
	}
}

func TestSocketHandlerRejectsPlainHTTP(t *testing.T) {
	h := hub.NewHub(hub.Dependencies{}, zap.NewNop(), nil)
	t.Cleanup(h.Stop)

	w := httptest.NewRecorder()
	SocketHandler(h, "ws").ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws?userId=u1", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("a request without upgrade headers must fail the handshake, got %d", w.Code)
	}
}
