package web

import (
	"context"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	perrors "github.com/jmgilman/go/errors"

	"github.com/IvanBrykalov/scopecache/scope"
)

// UI is a container: one view opened inside a session. Pointer identity
// is what the UI scoper keys caches on.
type UI struct {
	ID      int
	Session string
}

// UIProvider creates UI containers inside an initialization of the UI
// scoper and indexes them by session so handlers can find them by id.
type UIProvider struct {
	scoper *scope.Scoper[string, *UI]

	mu     sync.Mutex
	nextID map[string]int
	views  map[string]map[int]*UI
}

// NewUIProvider returns a provider bound to scoper. Register it as a
// Sessions listener after scoper.
func NewUIProvider(scoper *scope.Scoper[string, *UI]) *UIProvider {
	return &UIProvider{
		scoper: scoper,
		nextID: make(map[string]int),
		views:  make(map[string]map[int]*UI),
	}
}

// Scoper returns the UI scoper.
func (p *UIProvider) Scoper() *scope.Scoper[string, *UI] { return p.scoper }

// Create opens a UI in the session carried by ctx. init runs during the
// initialization; anything it resolves through the UI scoper lands in the
// new UI's cache. A failing init leaves no UI and no cache behind.
func (p *UIProvider) Create(ctx context.Context, init func(ctx context.Context, ui *UI) error) (*UI, error) {
	sess, ok := scope.SessionFrom[string](ctx)
	if !ok {
		return nil, perrors.New(perrors.CodeInvalidInput, "no session in context")
	}

	ui, err := scope.Construct(ctx, p.scoper, func(ctx context.Context) (*UI, error) {
		ui := &UI{ID: p.allocID(sess), Session: sess}
		if init != nil {
			if err := init(ctx, ui); err != nil {
				return nil, err
			}
		}
		return ui, nil
	})
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if m := p.views[sess]; m != nil {
		m[ui.ID] = ui
	}
	p.mu.Unlock()
	return ui, nil
}

// Find returns the UI id of session sess.
func (p *UIProvider) Find(sess string, id int) (*UI, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ui, ok := p.views[sess][id]
	return ui, ok
}

// Close discards a single UI and recycles its cache.
func (p *UIProvider) Close(sess string, id int) bool {
	p.mu.Lock()
	ui, ok := p.views[sess][id]
	if ok {
		delete(p.views[sess], id)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	return p.scoper.Registry().Detach(sess, ui)
}

// OnSessionStart implements scope.Lifecycle.
func (p *UIProvider) OnSessionStart(sess string) {
	p.mu.Lock()
	p.views[sess] = make(map[int]*UI)
	p.mu.Unlock()
}

// OnSessionEnd implements scope.Lifecycle.
func (p *UIProvider) OnSessionEnd(sess string) {
	p.mu.Lock()
	delete(p.views, sess)
	delete(p.nextID, sess)
	p.mu.Unlock()
}

// WithUI resolves the {ui} URL parameter to a UI of the current session and
// makes it the current container. Unknown ids get 404.
func (p *UIProvider) WithUI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, _ := scope.SessionFrom[string](r.Context())
		id, err := strconv.Atoi(chi.URLParam(r, "ui"))
		if err != nil {
			writeError(w, http.StatusBadRequest,
				perrors.Wrap(err, perrors.CodeInvalidInput, "ui id must be an integer"))
			return
		}
		ui, ok := p.Find(sess, id)
		if !ok {
			writeError(w, http.StatusNotFound,
				perrors.WithContext(perrors.New(perrors.CodeNotFound, "no such ui"), "ui", id))
			return
		}
		next.ServeHTTP(w, r.WithContext(scope.WithContainer(r.Context(), ui)))
	})
}

func (p *UIProvider) allocID(sess string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID[sess]++
	return p.nextID[sess]
}

var _ scope.Lifecycle[string] = (*UIProvider)(nil)
