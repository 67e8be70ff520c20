package wiremesh

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestAdminHealthz(t *testing.T) {
	sessions := NewSessionRegistry[*testSession]()
	pools := NewPools()
	router := NewAdminRouter[*testSession](sessions, pools, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAdminSessionsListsLiveOnes(t *testing.T) {
	sessions := NewSessionRegistry[*testSession]()
	sessions.Put(&testSession{id: "a", createdAt: time.Now(), lifespan: time.Hour})
	pools := NewPools()
	router := NewAdminRouter[*testSession](sessions, pools, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var views []sessionView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(views) != 1 || views[0].ID != "a" {
		t.Fatalf("got %v, want one session with id a", views)
	}
}

func TestAdminPoolMembers(t *testing.T) {
	sessions := NewSessionRegistry[*testSession]()
	pools := NewPools()
	pools.Add("room1", "a")
	pools.Add("room1", "b")
	router := NewAdminRouter[*testSession](sessions, pools, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/pools/room1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var members []string
	if err := json.Unmarshal(rec.Body.Bytes(), &members); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("got %v, want 2 members", members)
	}
}
