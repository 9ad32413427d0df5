package web

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	perrors "github.com/jmgilman/go/errors"
	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/scopecache/config"
	"github.com/IvanBrykalov/scopecache/scope"
)

// Counter is a mutable value used to make scoping observable over HTTP.
type Counter struct {
	mu sync.Mutex
	n  int
}

// Inc increments and returns the new value.
func (c *Counter) Inc() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n
}

// Value returns the current count.
func (c *Counter) Value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Trace identifies the request a request-scoped value was built for.
type Trace struct {
	RequestID string
}

var (
	// UICounter is one counter per UI.
	UICounter = scope.Bind(scope.NewKey("web.ui-counter"), func(context.Context) (*Counter, error) {
		return &Counter{}, nil
	})
	// SessionVisits is one counter per session, shared by its UIs.
	SessionVisits = scope.Bind(scope.NewKey("web.session-visits"), func(context.Context) (*Counter, error) {
		return &Counter{}, nil
	})
	// RequestTrace is built once per request.
	RequestTrace = scope.Bind(scope.NewKey("web.request-trace"), func(ctx context.Context) (*Trace, error) {
		return &Trace{RequestID: middleware.GetReqID(ctx)}, nil
	})
)

// App wires the three scopers, the session manager and the UI provider
// over one shared pool.
type App struct {
	Pool     *scope.Pool
	UIs      *UIProvider
	Session  *scope.SessionScoper[string]
	Requests *scope.RequestScoper
	Sessions *Sessions

	log zerolog.Logger
}

// MetricsFactory returns the sink for one scope of the app: "pool", "ui",
// "session" or "request". Every scope reports its own sessions gauge, so
// sinks must not be shared between them.
type MetricsFactory func(name string) scope.Metrics

// NewApp builds an App from cfg. metrics may be nil.
func NewApp(cfg *config.Config, metrics MetricsFactory, log *zerolog.Logger) *App {
	m := func(name string) scope.Metrics {
		if metrics == nil {
			return nil
		}
		return metrics(name)
	}
	pool := scope.NewPool(cfg.PoolOptions(m("pool"), log))

	uiScoper := scope.New(scope.Options[string, *UI]{
		Pool:        pool,
		Shards:      cfg.Scope.Shards,
		CloseValues: cfg.Scope.CloseValues,
		Metrics:     m("ui"),
		Logger:      log,
	})
	sessScoper := scope.NewSessionScoper(scope.Options[string, string]{
		Pool:        pool,
		Shards:      cfg.Scope.Shards,
		CloseValues: cfg.Scope.CloseValues,
		Metrics:     m("session"),
		Logger:      log,
	})
	requests := scope.NewRequestScoper(scope.RequestOptions{
		Pool:           pool,
		RequestSizeMax: cfg.Scope.RequestSizeMax,
		Metrics:        m("request"),
		Logger:         log,
	})
	uis := NewUIProvider(uiScoper)

	sessions := NewSessions(SessionOptions{
		Cookie: cfg.HTTP.CookieName,
		TTL:    cfg.HTTP.SessionTTL,
		Logger: log,
	}, uiScoper, sessScoper, uis)

	a := &App{
		Pool:     pool,
		UIs:      uis,
		Session:  sessScoper,
		Requests: requests,
		Sessions: sessions,
		log:      zerolog.Nop(),
	}
	if log != nil {
		a.log = *log
	}
	return a
}

// Router returns the HTTP surface:
//
//	POST   /ui                 open a UI in the current session
//	GET    /ui/{ui}/counter    bump the UI's counter and the session's visits
//	DELETE /ui/{ui}            close a UI
//	DELETE /session            end the current session
//	GET    /stats              pool counters
//
// /stats neither reads nor starts a session.
func (a *App) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/stats", a.stats)
	r.Group(func(r chi.Router) {
		r.Use(a.Sessions.Middleware)
		r.Use(RequestScope(a.Requests))

		r.Post("/ui", a.createUI)
		r.Route("/ui/{ui}", func(r chi.Router) {
			r.Use(a.UIs.WithUI)
			r.Get("/counter", a.counter)
			r.Delete("/", a.closeUI)
		})
		r.Delete("/session", a.endSession)
	})
	return r
}

type uiResponse struct {
	UI      int    `json:"ui"`
	Count   int    `json:"count"`
	Visits  int    `json:"visits"`
	Request string `json:"request,omitempty"`
}

func (a *App) createUI(w http.ResponseWriter, r *http.Request) {
	fail := r.URL.Query().Get("fail") != ""
	ui, err := a.UIs.Create(r.Context(), func(ctx context.Context, ui *UI) error {
		if _, err := UICounter.Get(ctx, a.UIs.Scoper()); err != nil {
			return err
		}
		if fail {
			return perrors.New(perrors.CodeInvalidInput, "ui construction refused")
		}
		return nil
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	a.log.Debug().Str("session", ui.Session).Int("ui", ui.ID).Msg("ui created")
	writeJSON(w, http.StatusCreated, uiResponse{UI: ui.ID})
}

func (a *App) counter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ui, _ := scope.ContainerFrom[*UI](ctx)

	c, err := UICounter.Get(ctx, a.UIs.Scoper())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	visits, err := SessionVisits.Get(ctx, a.Session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	trace := RequestTrace.MustGet(ctx, a.Requests)

	writeJSON(w, http.StatusOK, uiResponse{
		UI:      ui.ID,
		Count:   c.Inc(),
		Visits:  visits.Inc(),
		Request: trace.RequestID,
	})
}

func (a *App) closeUI(w http.ResponseWriter, r *http.Request) {
	ui, _ := scope.ContainerFrom[*UI](r.Context())
	if !a.UIs.Close(ui.Session, ui.ID) {
		writeError(w, http.StatusNotFound,
			perrors.WithContext(perrors.New(perrors.CodeNotFound, "no such ui"), "ui", strconv.Itoa(ui.ID)))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) endSession(w http.ResponseWriter, r *http.Request) {
	a.Sessions.End(r.Context())
	a.Sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

type statsResponse struct {
	Sessions int             `json:"sessions"`
	Idle     int             `json:"idle"`
	Pool     scope.PoolStats `json:"pool"`
}

func (a *App) stats(w http.ResponseWriter, _ *http.Request) {
	st := a.Pool.Stats()
	writeJSON(w, http.StatusOK, statsResponse{Sessions: a.Sessions.Len(), Idle: st.Idle, Pool: st})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, perrors.ToJSON(err))
}
