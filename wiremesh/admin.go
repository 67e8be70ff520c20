package wiremesh

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// sessionView is the read-only JSON shape an admin client sees for one
// session; it deliberately exposes only what the Session interface
// guarantees, not the user's concrete fields.
type sessionView struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// NewAdminRouter builds a read-only chi router exposing /healthz,
// /sessions, /pools/{name}, and (when reg is non-nil) /metrics. It holds no write paths: everything that
// mutates session or pool state goes through the packet protocol, not
// this surface. Grounded on relaydns/director.go's Director HTTP
// handlers, generalized from an HTML template to JSON.
func NewAdminRouter[S Session](sessions *SessionRegistry[S], pools *Pools, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
		all := sessions.All()
		views := make([]sessionView, 0, len(all))
		for _, s := range all {
			views = append(views, sessionView{
				ID:        s.ID(),
				CreatedAt: s.CreatedAt(),
				ExpiresAt: s.CreatedAt().Add(s.Lifespan()),
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(views)
	})

	r.Get("/pools/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pools.Members(name))
	})

	if reg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	return r
}
