// Package web hosts scopecache behind chi: a cookie session manager that
// drives the session lifecycle, a provider of per-session UI containers,
// and middleware opening a request scope around every handler.
package web

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/scopecache/scope"
)

// DefaultCookie is the session cookie name used when none is configured.
const DefaultCookie = "scopecache_session"

// SessionOptions configures Sessions. Zero values are safe:
//   - empty Cookie => DefaultCookie
//   - TTL <= 0     => sessions never expire
//   - nil Logger   => disabled
type SessionOptions struct {
	Cookie string
	TTL    time.Duration
	Logger *zerolog.Logger
}

// Sessions tracks live HTTP sessions and notifies its listeners exactly
// once when a session starts and once when it ends.
//
// Requests of one session are served one at a time, and a session ends
// only once no request of it is running. Scoped caches are therefore
// never touched by two requests at once, nor after they were recycled.
type Sessions struct {
	cookie    string
	ttl       time.Duration
	listeners []scope.Lifecycle[string]
	log       zerolog.Logger

	mu   sync.Mutex
	live map[string]*session
}

// session is the host-side state of one session. mu is held for the whole
// of each request and for teardown.
type session struct {
	mu     sync.Mutex
	gone   bool         // ended; guarded by mu
	ending bool         // end requested by the running request; guarded by mu
	seen   atomic.Int64 // last request start, unix nanos
}

type sessionCtxKey struct{}

// NewSessions returns a session manager. Listeners are started in order
// and ended in reverse order.
func NewSessions(opt SessionOptions, listeners ...scope.Lifecycle[string]) *Sessions {
	if opt.Cookie == "" {
		opt.Cookie = DefaultCookie
	}
	l := zerolog.Nop()
	if opt.Logger != nil {
		l = *opt.Logger
	}
	return &Sessions{
		cookie:    opt.Cookie,
		ttl:       opt.TTL,
		listeners: listeners,
		log:       l,
		live:      make(map[string]*session),
	}
}

// Middleware binds the request to its session, starting a new one (and
// setting the cookie) when the request carries none or an expired one.
// The session stays locked until the handler returns.
func (s *Sessions) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, sess, err := s.acquire(w, r)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		defer sess.mu.Unlock()
		defer func() {
			if sess.ending {
				s.teardown(id, sess)
			}
		}()

		ctx := context.WithValue(scope.WithSession(r.Context(), id), sessionCtxKey{}, sess)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// acquire locks the request's session, starting a fresh one when the
// cookie names none or one that ended while this request waited.
func (s *Sessions) acquire(w http.ResponseWriter, r *http.Request) (string, *session, error) {
	id, sess := s.fromRequest(r)
	for {
		if sess == nil {
			var err error
			if id, sess, err = s.start(); err != nil {
				return "", nil, err
			}
			http.SetCookie(w, &http.Cookie{
				Name:     s.cookie,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				SameSite: http.SameSiteLaxMode,
			})
		}
		sess.mu.Lock()
		if !sess.gone {
			sess.seen.Store(time.Now().UnixNano())
			return id, sess, nil
		}
		sess.mu.Unlock()
		sess = nil
	}
}

// Start opens a new session and returns its id.
func (s *Sessions) Start() (string, error) {
	id, _, err := s.start()
	return id, err
}

func (s *Sessions) start() (string, *session, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", nil, err
	}
	id := hex.EncodeToString(b[:])
	sess := &session{}
	sess.seen.Store(time.Now().UnixNano())

	// Listeners run before the session is published, so no request can
	// reach it before every scope knows it.
	for _, l := range s.listeners {
		l.OnSessionStart(id)
	}

	s.mu.Lock()
	s.live[id] = sess
	s.mu.Unlock()

	s.log.Debug().Str("session", id).Msg("session started")
	return id, sess, nil
}

// End marks the session of ctx, which must come from Middleware, to end
// once the current request returns. It reports false outside a session.
func (s *Sessions) End(ctx context.Context) bool {
	sess, ok := ctx.Value(sessionCtxKey{}).(*session)
	if !ok {
		return false
	}
	sess.ending = true
	return true
}

// Destroy ends session id, waiting for its running request to finish. It
// reports false when id was not live. Handlers must use End for their own
// session: Destroy would wait on the request calling it.
func (s *Sessions) Destroy(id string) bool {
	s.mu.Lock()
	sess, ok := s.live[id]
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return s.teardown(id, sess)
}

// teardown ends id unless someone else already did. sess.mu must be held.
func (s *Sessions) teardown(id string, sess *session) bool {
	s.mu.Lock()
	cur, ok := s.live[id]
	if ok && cur == sess {
		delete(s.live, id)
	}
	s.mu.Unlock()
	if !ok || cur != sess || sess.gone {
		return false
	}
	sess.gone = true

	for i := len(s.listeners) - 1; i >= 0; i-- {
		s.listeners[i].OnSessionEnd(id)
	}
	s.log.Debug().Str("session", id).Msg("session ended")
	return true
}

// Sweep ends every session idle since before now-TTL and reports how many
// it ended. Sessions with a running request are skipped. Without a TTL it
// does nothing.
func (s *Sessions) Sweep(now time.Time) int {
	if s.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-s.ttl).UnixNano()

	s.mu.Lock()
	idle := make(map[string]*session)
	for id, sess := range s.live {
		if sess.seen.Load() < cutoff {
			idle[id] = sess
		}
	}
	s.mu.Unlock()

	n := 0
	for id, sess := range idle {
		if !sess.mu.TryLock() {
			continue
		}
		if sess.seen.Load() < cutoff && s.teardown(id, sess) {
			n++
		}
		sess.mu.Unlock()
	}
	if n > 0 {
		s.log.Debug().Int("sessions", n).Msg("idle sessions expired")
	}
	return n
}

// Run sweeps idle sessions every interval until ctx is done. interval <= 0
// selects TTL/4.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = max(s.ttl/4, time.Second)
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			s.Sweep(now)
		}
	}
}

// Close ends every live session.
func (s *Sessions) Close() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.live))
	for id := range s.live {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Destroy(id)
	}
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// ClearCookie removes the session cookie on w.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: s.cookie, Value: "", Path: "/", MaxAge: -1})
}

func (s *Sessions) fromRequest(r *http.Request) (string, *session) {
	c, err := r.Cookie(s.cookie)
	if err != nil || c.Value == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return c.Value, s.live[c.Value]
}
