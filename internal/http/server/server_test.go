package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/html"

	"github.com/matthewgall/binder/internal/config"
	"github.com/matthewgall/binder/internal/models"
)

const testPassword = "correct horse battery staple"

type fakeUpstream struct {
	server         *httptest.Server
	failCatalog    atomic.Bool
	catalogHits    atomic.Int32
	spriteRequests atomic.Int32
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/pokemon":
			f.catalogHits.Add(1)
			if f.failCatalog.Load() {
				http.Error(w, "upstream down", http.StatusInternalServerError)
				return
			}
			base := "http://" + r.Host
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"count":3,"results":[
				{"name":"bulbasaur","url":"%[1]s/pokemon/1/"},
				{"name":"charmander","url":"%[1]s/pokemon/4/"},
				{"name":"pikachu","url":"%[1]s/pokemon/25/"}
			]}`, base)
		case strings.HasPrefix(r.URL.Path, "/sprites/"):
			f.spriteRequests.Add(1)
			if r.URL.Path == "/sprites/404.png" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("\x89PNG sprite " + strings.TrimPrefix(r.URL.Path, "/sprites/")))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, *fakeUpstream, *httptest.Server) {
	t.Helper()
	upstream := newFakeUpstream(t)
	tempDir := t.TempDir()

	cfg := config.Default()
	cfg.Database.Path = filepath.Join(tempDir, "binder.db")
	cfg.Auth.SessionSecret = "test-secret"
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Auth.MinDisplay = 0
	cfg.Uploads.Local.Directory = filepath.Join(tempDir, "uploads")
	cfg.Providers.PokeAPI.BaseURL = upstream.server.URL
	cfg.Providers.PokeAPI.Limit = 3
	cfg.Providers.PokeAPI.SpriteURLTemplate = upstream.server.URL + "/sprites/%d.png"
	cfg.App.SearchDebounce = 10 * time.Millisecond
	if mutate != nil {
		mutate(cfg)
	}

	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		ts.Close()
		if err := s.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return s, upstream, ts
}

func createTestUser(t *testing.T, s *Server, email string) int64 {
	t.Helper()
	hash, err := s.auth.HashPassword(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	id, err := s.db.CreateUser(context.Background(), email, "Ash", hash)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

type testClient struct {
	t      *testing.T
	base   string
	http   *http.Client
	jar    *cookiejar.Jar
	parsed *url.URL
}

func newTestClient(t *testing.T, ts *httptest.Server) *testClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	parsed, _ := url.Parse(ts.URL)
	return &testClient{
		t:    t,
		base: ts.URL,
		jar:  jar,
		http: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		parsed: parsed,
	}
}

func (c *testClient) cookie(name string) string {
	for _, cookie := range c.jar.Cookies(c.parsed) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func (c *testClient) do(method, path string, body interface{}) (*http.Response, []byte) {
	c.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.base+path, reader)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.cookie(csrfCookieName); token != "" {
		req.Header.Set(csrfHeaderName, token)
	}
	return c.send(req)
}

func (c *testClient) postForm(path string, form url.Values) (*http.Response, []byte) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(form.Encode()))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.send(req)
}

func (c *testClient) send(req *http.Request) (*http.Response, []byte) {
	c.t.Helper()
	resp, err := c.http.Do(req)
	if err != nil {
		c.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (c *testClient) login(email, password string) *http.Response {
	c.t.Helper()
	resp, _ := c.do(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	return resp
}

func decode(t *testing.T, data []byte, dest interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, dest); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

type itemsResponse struct {
	Entries []struct {
		Item struct {
			ID       int    `json:"id"`
			Name     string `json:"name"`
			ImageURL string `json:"image_url"`
		} `json:"item"`
		Owned bool `json:"owned"`
	} `json:"entries"`
	Searching  bool   `json:"searching"`
	Catalog    string `json:"catalog"`
	Ownership  string `json:"ownership"`
	OwnedCount int    `json:"owned_count"`
	Total      int    `json:"total"`
}

func TestAPILoginAndToggle(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)

	resp := client.login("Ash@Example.com ", testPassword)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	if client.cookie("binder_session") == "" {
		t.Fatal("login should set the session cookie")
	}

	resp, body := client.do(http.MethodGet, "/api/items", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("items status = %d body=%s", resp.StatusCode, body)
	}
	var items itemsResponse
	decode(t, body, &items)
	if len(items.Entries) != 3 || items.Total != 3 || items.OwnedCount != 0 {
		t.Fatalf("unexpected snapshot: %+v", items)
	}
	if items.Catalog != "ready" || items.Ownership != "ready" {
		t.Fatalf("unexpected load states: %s/%s", items.Catalog, items.Ownership)
	}

	resp, body = client.do(http.MethodGet, "/api/items/25/toggle", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"action":"add"`) {
		t.Fatalf("prompt status = %d body=%s", resp.StatusCode, body)
	}

	resp, body = client.do(http.MethodPost, "/api/items/25/toggle", map[string]string{"action": "add"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"owned":true`) {
		t.Fatalf("toggle status = %d body=%s", resp.StatusCode, body)
	}

	resp, body = client.do(http.MethodPost, "/api/items/25/toggle", map[string]string{"action": "add"})
	if resp.StatusCode != http.StatusConflict || !strings.Contains(string(body), "stale_toggle") {
		t.Fatalf("repeat toggle status = %d body=%s", resp.StatusCode, body)
	}

	resp, body = client.do(http.MethodPost, "/api/items/999/toggle", map[string]string{"action": "add"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown item status = %d body=%s", resp.StatusCode, body)
	}

	resp, body = client.do(http.MethodGet, "/api/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", resp.StatusCode)
	}
	var stats struct {
		Owned       int `json:"owned"`
		Generations []struct {
			Generation int `json:"generation"`
			Owned      int `json:"owned"`
			Total      int `json:"total"`
		} `json:"generations"`
	}
	decode(t, body, &stats)
	if stats.Owned != 1 || len(stats.Generations) != 1 || stats.Generations[0].Total != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	// Ownership survives a fresh read from the store.
	resp, body = client.do(http.MethodPost, "/api/view/reload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d", resp.StatusCode)
	}
	decode(t, body, &items)
	if items.OwnedCount != 1 {
		t.Fatalf("owned after reload = %d", items.OwnedCount)
	}

	resp, _ = client.do(http.MethodPost, "/api/auth/logout", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, body = client.do(http.MethodGet, "/api/items", nil)
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "unauthorized") {
		t.Fatalf("items after logout status = %d body=%s", resp.StatusCode, body)
	}
}

func TestAPILoginErrors(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	userID := createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)

	tests := []struct {
		name     string
		email    string
		password string
		status   int
		code     string
	}{
		{"missing password", "ash@example.com", "", http.StatusBadRequest, "missing_credentials"},
		{"wrong password", "ash@example.com", "nope", http.StatusUnauthorized, "invalid_credentials"},
		{"unknown user", "misty@example.com", testPassword, http.StatusUnauthorized, "invalid_credentials"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := client.do(http.MethodPost, "/api/auth/login", map[string]string{"email": tt.email, "password": tt.password})
			if resp.StatusCode != tt.status || !strings.Contains(string(body), tt.code) {
				t.Fatalf("status = %d body=%s", resp.StatusCode, body)
			}
		})
	}

	if err := s.db.DisableUser(context.Background(), userID); err != nil {
		t.Fatalf("disable user: %v", err)
	}
	resp, body := client.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ash@example.com", "password": testPassword})
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(string(body), "account_disabled") {
		t.Fatalf("disabled login status = %d body=%s", resp.StatusCode, body)
	}
}

func TestAPIRequiresCSRFToken(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)
	if resp := client.login("ash@example.com", testPassword); resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/items/1/toggle", strings.NewReader(`{"action":"add"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body := client.send(req)
	if resp.StatusCode != http.StatusForbidden || !strings.Contains(string(body), "csrf") {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
}

func TestAPISearchAndFilters(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)
	client.login("ash@example.com", testPassword)

	if resp, _ := client.do(http.MethodPost, "/api/items/4/toggle", map[string]string{"action": "add"}); resp.StatusCode != http.StatusOK {
		t.Fatalf("toggle status = %d", resp.StatusCode)
	}

	resp, body := client.do(http.MethodPost, "/api/view/filters/owned", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"only_owned":true`) {
		t.Fatalf("owned filter status = %d body=%s", resp.StatusCode, body)
	}
	var items itemsResponse
	_, body = client.do(http.MethodGet, "/api/items", nil)
	decode(t, body, &items)
	if len(items.Entries) != 1 || items.Entries[0].Item.ID != 4 {
		t.Fatalf("owned-only entries = %+v", items.Entries)
	}

	resp, body = client.do(http.MethodPost, "/api/view/filters/missing", nil)
	if !strings.Contains(string(body), `"only_owned":false`) || !strings.Contains(string(body), `"only_not_owned":true`) {
		t.Fatalf("missing filter body=%s", body)
	}
	_, body = client.do(http.MethodGet, "/api/items", nil)
	decode(t, body, &items)
	if len(items.Entries) != 2 {
		t.Fatalf("missing-only entries = %d", len(items.Entries))
	}
	client.do(http.MethodPost, "/api/view/filters/missing", nil)

	resp, body = client.do(http.MethodPut, "/api/view/search", map[string]string{"text": "PIKA"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"search_text":"pika"`) {
		t.Fatalf("search status = %d body=%s", resp.StatusCode, body)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body = client.do(http.MethodGet, "/api/items", nil)
		decode(t, body, &items)
		if !items.Searching {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("search never settled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if len(items.Entries) != 1 || items.Entries[0].Item.Name != "pikachu" {
		t.Fatalf("search entries = %+v", items.Entries)
	}
}

func TestAPILocation(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)
	client.login("ash@example.com", testPassword)

	resp, body := client.do(http.MethodGet, "/api/items/25/location", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), `"label":"P1 • F3 • Pos 7"`) {
		t.Fatalf("body=%s", body)
	}

	resp, _ = client.do(http.MethodGet, "/api/items/0/location", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("zero id status = %d", resp.StatusCode)
	}
}

func TestAPICatalogUnavailable(t *testing.T) {
	s, upstream, ts := newTestServer(t, nil)
	createTestUser(t, s, "ash@example.com")
	upstream.failCatalog.Store(true)

	client := newTestClient(t, ts)
	client.login("ash@example.com", testPassword)

	var (
		resp *http.Response
		body []byte
	)
	resp, body = client.do(http.MethodGet, "/api/items", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(string(body), "catalog_unavailable") {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}

	upstream.failCatalog.Store(false)
	resp, body = client.do(http.MethodPost, "/api/view/reload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reload status = %d body=%s", resp.StatusCode, body)
	}
	var items itemsResponse
	decode(t, body, &items)
	if items.Catalog != "ready" || len(items.Entries) != 3 {
		t.Fatalf("unexpected snapshot after retry: %+v", items)
	}
}

func TestSessionRestoredFromCookie(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	userID := createTestUser(t, s, "ash@example.com")

	first := newTestClient(t, ts)
	first.login("ash@example.com", testPassword)
	token := first.cookie("binder_session")

	second := newTestClient(t, ts)
	second.jar.SetCookies(second.parsed, []*http.Cookie{{Name: "binder_session", Value: token, Path: "/"}})

	resp, body := second.do(http.MethodGet, "/api/auth/session", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"authenticated":true`) {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}
	if !strings.Contains(string(body), `"screen":"list"`) {
		t.Fatalf("restored session should go straight to the list: %s", body)
	}

	if err := s.db.DisableUser(context.Background(), userID); err != nil {
		t.Fatalf("disable user: %v", err)
	}
	third := newTestClient(t, ts)
	third.jar.SetCookies(third.parsed, []*http.Cookie{{Name: "binder_session", Value: token, Path: "/"}})
	resp, body = third.do(http.MethodGet, "/api/auth/session", nil)
	if !strings.Contains(string(body), `"authenticated":false`) {
		t.Fatalf("disabled account should not restore: %s", body)
	}
	if third.cookie("binder_session") != "" {
		t.Fatal("rejected session cookie should be cleared")
	}

	// The already-restored workspace notices on its next account check.
	resp, body = second.do(http.MethodGet, "/api/auth/session", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"authenticated":false`) {
		t.Fatalf("disabled account should be signed out: %s", body)
	}
}

func TestLoadingScreenHoldsMinimumDisplay(t *testing.T) {
	s, _, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.MinDisplay = time.Hour
	})
	createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)

	resp, body := client.do(http.MethodPost, "/api/auth/login", map[string]string{"email": "ash@example.com", "password": testPassword})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"screen":"loading"`) {
		t.Fatalf("status = %d body=%s", resp.StatusCode, body)
	}

	resp, body = client.do(http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "Opening your binder") {
		t.Fatalf("home should show the loading screen, status = %d", resp.StatusCode)
	}
}

func TestHTMLLoginAndToggleFlow(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)

	resp, _ := client.do(http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("signed-out home status = %d location=%q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, body := client.do(http.MethodGet, "/login", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login page status = %d", resp.StatusCode)
	}
	csrf := inputValue(t, body, "csrf_token")
	if csrf == "" || csrf != client.cookie(csrfCookieName) {
		t.Fatalf("login form csrf = %q, cookie = %q", csrf, client.cookie(csrfCookieName))
	}

	resp, body = client.postForm("/login", url.Values{"email": {"ash@example.com"}, "password": {"wrong"}, "csrf_token": {csrf}})
	if resp.StatusCode != http.StatusUnauthorized || !strings.Contains(string(body), "Invalid email or password.") {
		t.Fatalf("bad login status = %d", resp.StatusCode)
	}

	resp, _ = client.postForm("/login", url.Values{"email": {"ash@example.com"}, "password": {testPassword}})
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("login without csrf status = %d", resp.StatusCode)
	}

	resp, _ = client.postForm("/login", url.Values{"email": {"ash@example.com"}, "password": {testPassword}, "csrf_token": {csrf}})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/" {
		t.Fatalf("login status = %d location=%q", resp.StatusCode, resp.Header.Get("Location"))
	}

	resp, body = client.do(http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("home status = %d", resp.StatusCode)
	}
	if cards := countCards(t, body, ""); cards != 3 {
		t.Fatalf("home cards = %d", cards)
	}

	resp, body = client.do(http.MethodGet, "/items/1/confirm", nil)
	if resp.StatusCode != http.StatusOK || inputValue(t, body, "action") != "add" {
		t.Fatalf("confirm status = %d", resp.StatusCode)
	}

	csrf = client.cookie(csrfCookieName)
	resp, _ = client.postForm("/items/1/toggle", url.Values{"action": {"add"}, "csrf_token": {csrf}})
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("toggle status = %d", resp.StatusCode)
	}

	// A second submit of the same prompt is stale and goes back to the prompt.
	resp, _ = client.postForm("/items/1/toggle", url.Values{"action": {"add"}, "csrf_token": {csrf}})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/items/1/confirm" {
		t.Fatalf("stale toggle status = %d location=%q", resp.StatusCode, resp.Header.Get("Location"))
	}

	_, body = client.do(http.MethodGet, "/", nil)
	if owned := countCards(t, body, "true"); owned != 1 {
		t.Fatalf("owned cards = %d", owned)
	}

	resp, _ = client.postForm("/logout", url.Values{"csrf_token": {csrf}})
	if resp.StatusCode != http.StatusSeeOther || resp.Header.Get("Location") != "/login" {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}
	resp, _ = client.do(http.MethodGet, "/", nil)
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("home after logout status = %d", resp.StatusCode)
	}
}

func TestSpriteMirror(t *testing.T) {
	s, upstream, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Sprites.Mirror = true
	})
	createTestUser(t, s, "ash@example.com")
	client := newTestClient(t, ts)
	client.login("ash@example.com", testPassword)

	_, body := client.do(http.MethodGet, "/api/items", nil)
	var items itemsResponse
	decode(t, body, &items)
	if len(items.Entries) == 0 || items.Entries[0].Item.ImageURL != "/media/sprites/1" {
		t.Fatalf("image urls should point at the mirror: %+v", items.Entries)
	}

	for i := 0; i < 2; i++ {
		resp, body := client.do(http.MethodGet, "/media/sprites/25", nil)
		if resp.StatusCode != http.StatusOK || string(body) != "\x89PNG sprite 25.png" {
			t.Fatalf("sprite status = %d body=%q", resp.StatusCode, body)
		}
		if resp.Header.Get("Content-Type") != "image/png" {
			t.Fatalf("sprite content type = %q", resp.Header.Get("Content-Type"))
		}
	}
	if got := upstream.spriteRequests.Load(); got != 1 {
		t.Fatalf("upstream sprite requests = %d, want 1", got)
	}
}

func TestSpriteMirrorHonoursUploadAndCacheSettings(t *testing.T) {
	s, upstream, ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Sprites.Mirror = true
		cfg.Uploads.MaxSize = 8
		cfg.Cache.TTL.Default = time.Hour
	})
	client := newTestClient(t, ts)

	resp, _ := client.do(http.MethodGet, "/media/sprites/25", nil)
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("oversized sprite status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}

	for i := 0; i < 3; i++ {
		resp, _ := client.do(http.MethodGet, "/media/sprites/404", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("missing sprite status = %d", resp.StatusCode)
		}
	}
	if got := upstream.spriteRequests.Load(); got != 2 {
		t.Fatalf("upstream sprite requests = %d, want 2", got)
	}

	entry, err := s.cache.Get(context.Background(), models.ProviderSprites, "sprite_missing:404")
	if err != nil || entry == nil {
		t.Fatalf("missing sprite should be cached: entry=%v err=%v", entry, err)
	}
	if entry.TTLSeconds != int(time.Hour.Seconds()) {
		t.Fatalf("cached miss ttl = %d", entry.TTLSeconds)
	}
}

func TestSpriteMirrorDisabled(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	client := newTestClient(t, ts)
	resp, _ := client.do(http.MethodGet, "/media/sprites/25", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealthAndNotFound(t *testing.T) {
	_, _, ts := newTestServer(t, nil)
	client := newTestClient(t, ts)

	resp, body := client.do(http.MethodGet, "/health", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"status":"ok"`) {
		t.Fatalf("health status = %d body=%s", resp.StatusCode, body)
	}

	resp, body = client.do(http.MethodGet, "/api/nope", nil)
	if resp.StatusCode != http.StatusNotFound || !strings.Contains(string(body), "not_found") {
		t.Fatalf("api not found status = %d body=%s", resp.StatusCode, body)
	}

	resp, _ = client.do(http.MethodGet, "/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("page not found status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Frame-Options") != "DENY" {
		t.Fatal("security headers missing")
	}
}

func TestWorkspaceSweep(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	now := time.Now()
	registry := newWorkspaceRegistry(s.newWorkspace, time.Hour, 0)
	registry.now = func() time.Time { return now }
	defer registry.Close()

	registry.get("a")
	now = now.Add(45 * time.Minute)
	registry.get("b")

	now = now.Add(30 * time.Minute)
	if closed := registry.sweep(); closed != 1 {
		t.Fatalf("sweep closed %d, want 1", closed)
	}
	if registry.len() != 1 {
		t.Fatalf("remaining workspaces = %d", registry.len())
	}
}

func TestAnonymousRequestsDoNotHoldWorkspaces(t *testing.T) {
	s, _, ts := newTestServer(t, nil)
	createTestUser(t, s, "ash@example.com")

	for i := 0; i < 50; i++ {
		resp, err := http.Get(ts.URL + "/login")
		if err != nil {
			t.Fatalf("GET /login: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET /login status = %d", resp.StatusCode)
		}
	}
	if got := s.workspaces.len(); got != 0 {
		t.Fatalf("workspaces after cookieless requests = %d, want 0", got)
	}

	browser := newTestClient(t, ts)
	browser.do(http.MethodGet, "/login", nil)
	if browser.cookie(clientCookieName) == "" {
		t.Fatal("first visit should set the client cookie")
	}
	browser.do(http.MethodGet, "/login", nil)
	if got := s.workspaces.len(); got != 1 {
		t.Fatalf("workspaces after a returning browser = %d, want 1", got)
	}

	// Signing in on a first request keeps the workspace.
	api := newTestClient(t, ts)
	if resp := api.login("ash@example.com", testPassword); resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	if got := s.workspaces.len(); got != 2 {
		t.Fatalf("workspaces after sign in = %d, want 2", got)
	}
	resp, body := api.do(http.MethodGet, "/api/auth/session", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"authenticated":true`) {
		t.Fatalf("session after sign in: status = %d body=%s", resp.StatusCode, body)
	}
}

func TestWorkspaceRegistryEvictsLeastRecentlySeen(t *testing.T) {
	s, _, _ := newTestServer(t, nil)
	now := time.Now()
	registry := newWorkspaceRegistry(s.newWorkspace, time.Hour, 2)
	registry.now = func() time.Time { return now }
	defer registry.Close()

	a := registry.get("a")
	now = now.Add(time.Minute)
	registry.get("b")
	now = now.Add(time.Minute)
	registry.get("a")
	now = now.Add(time.Minute)
	registry.get("c")

	if registry.len() != 2 {
		t.Fatalf("workspaces = %d, want 2", registry.len())
	}
	registry.mu.Lock()
	_, hasA := registry.byID["a"]
	_, hasB := registry.byID["b"]
	registry.mu.Unlock()
	if !hasA || hasB {
		t.Fatalf("expected b to be evicted, have a=%v b=%v", hasA, hasB)
	}
	if !a.isRegistered() {
		t.Fatal("recently seen workspace should stay registered")
	}

	d := s.newWorkspace("d")
	registry.adopt(d)
	if !d.isRegistered() || registry.len() != 2 {
		t.Fatalf("adopt: registered=%v len=%d", d.isRegistered(), registry.len())
	}
}

func inputValue(t *testing.T, body []byte, name string) string {
	t.Helper()
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	var value string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if value != "" {
			return
		}
		if n.Type == html.ElementNode && n.Data == "input" && attrValue(n, "name") == name {
			value = attrValue(n, "value")
			return
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return value
}

// countCards counts rendered cards, optionally only those with the given data-owned value.
func countCards(t *testing.T, body []byte, owned string) int {
	t.Helper()
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	count := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "article" && strings.Contains(attrValue(n, "class"), "card") {
			if owned == "" || attrValue(n, "data-owned") == owned {
				count++
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return count
}

func attrValue(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
