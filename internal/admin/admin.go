// Package admin implements spec.md's administrative REST surface:
// /apisix/admin/{kind}[/{id}] CRUD over the five catalog entity kinds,
// guarded by an X-API-KEY header, grounded on original_source/src/admin's
// matchit-routed resource handlers and validate-then-store write path.
package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/julienschmidt/httprouter"

	"github.com/pingsix/pingsix/internal/config"
	"github.com/pingsix/pingsix/internal/errors"
	"github.com/pingsix/pingsix/internal/metrics"
)

// ReloadFunc applies a candidate configuration to the running gateway. It is
// expected to validate cfg, swap the catalog, and resync the router and
// request orchestrator — the same registry.Reload + router.Reset +
// lifecycle.Orchestrator.Rebuild sequence cmd/pingsix/main.go runs on
// startup, so an admin write can never leave the gateway half-updated.
type ReloadFunc func(cfg *config.Config) error

// entry is one item of a list response, per spec.md: "List responses are
// {total, list: [{key, value, createdIndex, modifiedIndex}]}".
type entry struct {
	Key           string          `json:"key"`
	Value         json.RawMessage `json:"value"`
	CreatedIndex  int64           `json:"createdIndex"`
	ModifiedIndex int64           `json:"modifiedIndex"`
}

type listResponse struct {
	Total int     `json:"total"`
	List  []entry `json:"list"`
}

type valueResponse struct {
	Value json.RawMessage `json:"value"`
}

// Server is the gateway's administrative HTTP handler.
type Server struct {
	mu     sync.Mutex
	cfg    *config.Config
	apiKey string
	reload ReloadFunc
	kinds  map[string]kind

	revision int64
	created  map[string]int64 // "kind/id" -> revision first written
	modified map[string]int64 // "kind/id" -> revision of last write

	collector *metrics.Collector
	mux       *httprouter.Router
}

// New builds a Server over cfg's current state. cfg is treated as owned by
// the Server from this point on: admin writes mutate a clone and hand it to
// reload, only adopting the clone as the new baseline once reload accepts it.
func New(cfg *config.Config, apiKey string, collector *metrics.Collector, reload ReloadFunc) *Server {
	s := &Server{
		cfg:       cfg,
		apiKey:    apiKey,
		reload:    reload,
		kinds:     buildKinds(),
		revision:  1,
		created:   make(map[string]int64),
		modified:  make(map[string]int64),
		collector: collector,
	}
	for name, k := range s.kinds {
		for id := range k.list(cfg) {
			key := name + "/" + id
			s.created[key] = s.revision
			s.modified[key] = s.revision
		}
	}

	mux := httprouter.New()
	mux.RedirectTrailingSlash = false
	mux.RedirectFixedPath = false
	mux.HandleMethodNotAllowed = true
	mux.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrNoRouteMatched.WriteJSON(w)
	})
	mux.MethodNotAllowed = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.ErrMethodNotAllowed.WriteJSON(w)
	})
	mux.GET("/apisix/admin/:kind", s.handleList)
	mux.GET("/apisix/admin/:kind/:id", s.handleGet)
	mux.PUT("/apisix/admin/:kind/:id", s.handlePut)
	mux.DELETE("/apisix/admin/:kind/:id", s.handleDelete)
	if collector != nil {
		mux.Handler(http.MethodGet, "/metrics", collector.PrometheusHandler())
	}
	s.mux = mux
	return s
}

// ServeHTTP authenticates every request except the Prometheus scrape
// endpoint, which by convention is polled by infrastructure that doesn't
// carry the admin API key, before delegating to the resource router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/metrics" && !s.authorized(r) {
		errors.ErrForbidden.WithDetails("invalid API key").WriteJSON(w)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) authorized(r *http.Request) bool {
	if s.apiKey == "" {
		return true
	}
	return r.Header.Get("X-API-KEY") == s.apiKey
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("kind")

	s.mu.Lock()
	k, ok := s.kinds[name]
	if !ok {
		s.mu.Unlock()
		errors.ErrNoRouteMatched.WithDetails("unknown resource kind " + name).WriteJSON(w)
		return
	}
	items := k.list(s.cfg)
	resp := listResponse{Total: len(items), List: make([]entry, 0, len(items))}
	for id, raw := range items {
		key := name + "/" + id
		resp.List = append(resp.List, entry{
			Key:           key,
			Value:         raw,
			CreatedIndex:  s.created[key],
			ModifiedIndex: s.modified[key],
		})
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name, id := ps.ByName("kind"), ps.ByName("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kinds[name]
	if !ok {
		errors.ErrNoRouteMatched.WithDetails("unknown resource kind " + name).WriteJSON(w)
		return
	}
	raw, ok := k.get(s.cfg, id)
	if !ok {
		errors.ErrNoRouteMatched.WithDetails("resource not found").WriteJSON(w)
		return
	}
	writeJSON(w, http.StatusOK, valueResponse{Value: raw})
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !jsonContentType(ct) {
		badRequest("content-type must be application/json").WriteJSON(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		badRequest("failed to read request body").WriteJSON(w)
		return
	}

	name, id := ps.ByName("kind"), ps.ByName("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kinds[name]
	if !ok {
		errors.ErrNoRouteMatched.WithDetails("unknown resource kind " + name).WriteJSON(w)
		return
	}

	candidate := cloneConfig(s.cfg)
	if err := k.put(candidate, id, body); err != nil {
		badRequest(err.Error()).WriteJSON(w)
		return
	}
	if err := s.reload(candidate); err != nil {
		badRequest(err.Error()).WriteJSON(w)
		return
	}

	s.cfg = candidate
	s.revision++
	key := name + "/" + id
	if _, exists := s.created[key]; !exists {
		s.created[key] = s.revision
	}
	s.modified[key] = s.revision

	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name, id := ps.ByName("kind"), ps.ByName("id")

	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.kinds[name]
	if !ok {
		errors.ErrNoRouteMatched.WithDetails("unknown resource kind " + name).WriteJSON(w)
		return
	}

	candidate := cloneConfig(s.cfg)
	if !k.delete(candidate, id) {
		errors.ErrNoRouteMatched.WithDetails("resource not found").WriteJSON(w)
		return
	}
	if err := s.reload(candidate); err != nil {
		badRequest(err.Error()).WriteJSON(w)
		return
	}

	s.cfg = candidate
	s.revision++
	key := name + "/" + id
	delete(s.created, key)
	delete(s.modified, key)

	w.WriteHeader(http.StatusOK)
}

// badRequest builds a 400, the status original_source's AdminError::BadRequest
// maps to for a malformed or invalid resource body — distinct from
// errors.ErrConfigInvalid, whose default 500 is reserved for this gateway's
// own startup configuration failures, not a client's bad admin write.
func badRequest(msg string) *errors.Error {
	return errors.NewWithStatus(errors.KindConfigInvalid, http.StatusBadRequest, msg)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func jsonContentType(ct string) bool {
	for i := 0; i < len(ct); i++ {
		if ct[i] == ';' {
			ct = ct[:i]
			break
		}
	}
	return ct == "application/json"
}

// cloneConfig copies the five admin-mutable collections so a rejected write
// never touches the Server's live baseline; every other field is shared
// verbatim since admin never writes to it.
func cloneConfig(cfg *config.Config) *config.Config {
	c := *cfg
	c.Upstreams = make(map[string]config.UpstreamConfig, len(cfg.Upstreams))
	for id, u := range cfg.Upstreams {
		c.Upstreams[id] = u
	}
	c.Routes = append([]config.RouteConfig(nil), cfg.Routes...)
	c.Services = append([]config.ServiceDefConfig(nil), cfg.Services...)
	c.GlobalRules = append([]config.GlobalRuleConfig(nil), cfg.GlobalRules...)
	c.SSL = append([]config.SSLConfig(nil), cfg.SSL...)
	return &c
}
