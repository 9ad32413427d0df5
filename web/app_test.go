package web

import (
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IvanBrykalov/scopecache/config"
	"github.com/IvanBrykalov/scopecache/scope"
)

type client struct {
	t    *testing.T
	base string
	http *http.Client
}

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	app := NewApp(cfg, nil, nil)
	srv := httptest.NewServer(app.Router())
	t.Cleanup(srv.Close)
	return app, srv
}

func newClient(t *testing.T, srv *httptest.Server) *client {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, base: srv.URL, http: &http.Client{Jar: jar}}
}

func (c *client) do(method, path string) (*http.Response, uiResponse) {
	c.t.Helper()
	req, err := http.NewRequest(method, c.base+path, nil)
	require.NoError(c.t, err)
	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	var body uiResponse
	if resp.StatusCode < 300 && resp.ContentLength != 0 && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(&body))
	}
	return resp, body
}

func (c *client) session() string {
	c.t.Helper()
	u, err := url.Parse(c.base)
	require.NoError(c.t, err)
	for _, ck := range c.http.Jar.Cookies(u) {
		if ck.Name == DefaultCookie {
			return ck.Value
		}
	}
	c.t.Fatal("no session cookie")
	return ""
}

func TestApp_UICountersAreScopedPerUI(t *testing.T) {
	_, srv := newTestApp(t)
	c := newClient(t, srv)

	resp, first := c.do(http.MethodPost, "/ui")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_, second := c.do(http.MethodPost, "/ui")
	require.NotEqual(t, first.UI, second.UI)

	path := func(id int) string { return "/ui/" + strconv.Itoa(id) + "/counter" }

	_, r := c.do(http.MethodGet, path(first.UI))
	assert.Equal(t, 1, r.Count)
	assert.Equal(t, 1, r.Visits)
	_, r = c.do(http.MethodGet, path(first.UI))
	assert.Equal(t, 2, r.Count)
	assert.Equal(t, 2, r.Visits)

	_, r = c.do(http.MethodGet, path(second.UI))
	assert.Equal(t, 1, r.Count, "each UI has its own counter")
	assert.Equal(t, 3, r.Visits, "visits are shared by the session")
	assert.NotEmpty(t, r.Request)
}

func TestApp_SessionsAreIsolated(t *testing.T) {
	app, srv := newTestApp(t)
	a, b := newClient(t, srv), newClient(t, srv)

	_, ua := a.do(http.MethodPost, "/ui")
	_, ub := b.do(http.MethodPost, "/ui")
	require.Equal(t, ua.UI, ub.UI, "ui ids are per session")

	a.do(http.MethodGet, "/ui/"+strconv.Itoa(ua.UI)+"/counter")
	a.do(http.MethodGet, "/ui/"+strconv.Itoa(ua.UI)+"/counter")
	_, r := b.do(http.MethodGet, "/ui/"+strconv.Itoa(ub.UI)+"/counter")
	assert.Equal(t, 1, r.Count)
	assert.Equal(t, 2, app.Sessions.Len())
}

func TestApp_FailedConstructionLeavesNoCache(t *testing.T) {
	app, srv := newTestApp(t)
	c := newClient(t, srv)

	resp, _ := c.do(http.MethodPost, "/ui?fail=1")
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, 0, app.UIs.Scoper().Registry().Containers(c.session()))

	resp, _ = c.do(http.MethodGet, "/ui/1/counter")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, ui := c.do(http.MethodPost, "/ui")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, 1, app.UIs.Scoper().Registry().Containers(c.session()))
	_, r := c.do(http.MethodGet, "/ui/"+strconv.Itoa(ui.UI)+"/counter")
	assert.Equal(t, 1, r.Count, "counter resolved during init is committed")
}

func TestApp_CloseUI(t *testing.T) {
	app, srv := newTestApp(t)
	c := newClient(t, srv)

	_, ui := c.do(http.MethodPost, "/ui")
	resp, _ := c.do(http.MethodDelete, "/ui/"+strconv.Itoa(ui.UI))
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 0, app.UIs.Scoper().Registry().Containers(c.session()))

	resp, _ = c.do(http.MethodGet, "/ui/"+strconv.Itoa(ui.UI)+"/counter")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestApp_EndSessionRecyclesCaches(t *testing.T) {
	app, srv := newTestApp(t)
	c := newClient(t, srv)

	_, ui := c.do(http.MethodPost, "/ui")
	c.do(http.MethodGet, "/ui/"+strconv.Itoa(ui.UI)+"/counter")
	sess := c.session()
	before := app.Pool.Stats()

	resp, _ := c.do(http.MethodDelete, "/session")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, 0, app.Sessions.Len())
	assert.False(t, app.UIs.Scoper().Registry().Has(sess))
	assert.Equal(t, 0, app.Session.Sessions())
	// UI cache and session cache both leave the registry through the pool.
	after := app.Pool.Stats()
	assert.GreaterOrEqual(t, (after.Released+after.Discarded)-(before.Released+before.Discarded), int64(2))
}

func TestApp_StatsStartsNoSession(t *testing.T) {
	app, srv := newTestApp(t)

	for range 50 {
		resp, err := http.Get(srv.URL + "/stats")
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, resp.Cookies())
	}
	assert.Equal(t, 0, app.Sessions.Len())
}

func TestApp_MetricsPerScope(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	var scopes []string
	NewApp(cfg, func(s string) scope.Metrics {
		scopes = append(scopes, s)
		return scope.NoopMetrics{}
	}, nil)
	assert.Equal(t, []string{"pool", "ui", "session", "request"}, scopes)
}

func TestApp_SessionTTLFromConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	cfg.HTTP.SessionTTL = time.Minute
	app := NewApp(cfg, nil, nil)
	srv := httptest.NewServer(app.Router())
	t.Cleanup(srv.Close)
	c := newClient(t, srv)

	_, ui := c.do(http.MethodPost, "/ui")
	sess := c.session()
	require.Equal(t, 1, app.Sessions.Len())

	assert.Equal(t, 1, app.Sessions.Sweep(time.Now().Add(2*time.Minute)))
	assert.False(t, app.UIs.Scoper().Registry().Has(sess))

	resp, _ := c.do(http.MethodGet, "/ui/"+strconv.Itoa(ui.UI)+"/counter")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "ui died with its session")
}

func TestApp_BadUIParam(t *testing.T) {
	_, srv := newTestApp(t)
	c := newClient(t, srv)

	resp, _ := c.do(http.MethodGet, "/ui/abc/counter")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
