package e2e

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
)

// Request kinds counted by the fake marketplace.
const (
	kindLogin  = "login"
	kindList   = "list"
	kindDetail = "detail"
	kindPoints = "points"
)

// Marketplace is an in-process stand-in for the CargoTech API.
type Marketplace struct {
	server *httptest.Server

	mu     sync.Mutex
	counts map[string]int
	token  string

	logins       atomic.Int64
	reject401    atomic.Int64
	unavailable  atomic.Int64
	missingCargo int64
}

// NewMarketplace starts the fake upstream.
func NewMarketplace() *Marketplace {
	m := &Marketplace{counts: make(map[string]int), missingCargo: 404}

	r := chi.NewRouter()
	r.Post("/v1/auth/login", m.handleLogin)
	r.Group(func(r chi.Router) {
		r.Use(m.authenticated)
		r.Get("/v2/cargos/views", m.handleList)
		r.Get("/v1/carrier/cargos/{id}", m.handleDetail)
		r.Get("/v1/dictionaries/points", m.handlePoints)
	})
	m.server = httptest.NewServer(r)
	return m
}

// URL is the base URL of the fake.
func (m *Marketplace) URL() string { return m.server.URL }

// Close stops the fake.
func (m *Marketplace) Close() { m.server.Close() }

// Count returns how many requests of kind were received.
func (m *Marketplace) Count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[kind]
}

// RejectNext makes the next n authenticated requests answer 401.
func (m *Marketplace) RejectNext(n int) { m.reject401.Store(int64(n)) }

// FailNext makes the next n authenticated requests answer 503.
func (m *Marketplace) FailNext(n int) { m.unavailable.Store(int64(n)) }

func (m *Marketplace) hit(kind string) {
	m.mu.Lock()
	m.counts[kind]++
	m.mu.Unlock()
}

func (m *Marketplace) handleLogin(w http.ResponseWriter, r *http.Request) {
	m.hit(kindLogin)
	var body struct {
		Phone    string `json:"phone"`
		Password string `json:"password"`
		Remember bool   `json:"remember"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Phone == "" || !body.Remember {
		w.WriteHeader(http.StatusUnprocessableEntity)
		return
	}

	n := m.logins.Add(1)
	token := fmt.Sprintf("%d|opaque-%d", n, n)
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	writeJSON(w, map[string]any{"data": map[string]string{"token": token}})
}

func (m *Marketplace) authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.hit(kindFor(r.URL.Path))

		if take(&m.reject401) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if take(&m.unavailable) {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		m.mu.Lock()
		current := m.token
		m.mu.Unlock()
		if current == "" || r.Header.Get("Authorization") != "Bearer "+current {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Marketplace) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("filter[user_id]") == "" || q.Get("include") != "contacts" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	writeJSON(w, map[string]any{
		"data": []map[string]any{sampleCargo(42)},
		"meta": map[string]int{"total": 1, "limit": limit, "offset": offset},
	})
}

func (m *Marketplace) handleDetail(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == m.missingCargo {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	cargo := sampleCargo(id)
	cargo["extra"] = map[string]string{"note": "Call before loading"}
	writeJSON(w, map[string]any{"data": cargo})
}

func (m *Marketplace) handlePoints(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("filter[name]")
	points := []map[string]any{}
	if strings.HasPrefix("москва", name) {
		points = append(points, map[string]any{"id": 1, "name": "Москва", "region": "Москва"})
	}
	writeJSON(w, map[string]any{"data": points})
}

func sampleCargo(id int64) map[string]any {
	return map[string]any{
		"id":     id,
		"title":  "Pallets, 20t",
		"status": "active",
		"from":   map[string]any{"id": 1, "name": "Москва"},
		"to":     map[string]any{"id": 2, "name": "Казань"},
		"weight": 20,
		"volume": 82,
		"price":  map[string]string{"value": "85000", "currency": "RUB"},
	}
}

func kindFor(path string) string {
	switch {
	case strings.HasPrefix(path, "/v2/cargos/views"):
		return kindList
	case strings.HasPrefix(path, "/v1/carrier/cargos/"):
		return kindDetail
	default:
		return kindPoints
	}
}

// take decrements n if positive and reports whether it did.
func take(n *atomic.Int64) bool {
	for {
		cur := n.Load()
		if cur <= 0 {
			return false
		}
		if n.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
