package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koustreak/recordbase/internal/access"
	"github.com/koustreak/recordbase/internal/changes"
	"github.com/koustreak/recordbase/internal/database"
	"github.com/koustreak/recordbase/internal/database/sqlite"
	"github.com/koustreak/recordbase/internal/recordapi"
	"github.com/koustreak/recordbase/internal/schema"
	"github.com/koustreak/recordbase/internal/subscription"
)

const testSecret = "test-secret"

const testSchema = `
CREATE TABLE author (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL
) STRICT;
`

func newTestServer(t *testing.T, auth access.Authorizer, mutate func(*Options)) (*Server, *recordapi.Service) {
	t.Helper()
	ctx := context.Background()

	db, err := sqlite.New(ctx, database.DefaultConfig(database.DriverSQLite, filepath.Join(t.TempDir(), "server.db")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Exec(ctx, testSchema)
	require.NoError(t, err)

	reg := schema.NewRegistry(db, schema.Options{})
	require.NoError(t, reg.Reload(ctx))

	capture := changes.NewCapture(db, nil)
	hub := subscription.NewHub(subscription.HubOptions{})
	capture.AddSink(hub)
	t.Cleanup(hub.Close)

	svc := recordapi.New(db, reg, capture, hub, recordapi.Options{Authorizer: auth})
	opts := Options{JWTSecret: testSecret, Health: db.Ping, Keepalive: 50 * time.Millisecond}
	if mutate != nil {
		mutate(&opts)
	}
	return New(svc, opts), svc
}

func do(t *testing.T, s *Server, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func token(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthcheck(t *testing.T) {
	s, _ := newTestServer(t, access.AllowAll{}, nil)

	rec := do(t, s, http.MethodGet, "/api/healthcheck", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = do(t, s, http.MethodGet, "/api/healthcheck", "", requestIDHeader, "abc-123")
	assert.Equal(t, "abc-123", rec.Header().Get(requestIDHeader))
}

func TestRecordsCRUD(t *testing.T) {
	s, _ := newTestServer(t, access.AllowAll{}, nil)

	rec := do(t, s, http.MethodPost, "/api/records/v1/author", `{"name":"Ann"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ids":[1]}`, rec.Body.String())

	rec = do(t, s, http.MethodPost, "/api/records/v1/author", `[{"name":"Bob"},{"name":"Cid"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"ids":[2,3]}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/records/v1/author/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":2,"name":"Bob"}`, rec.Body.String())

	rec = do(t, s, http.MethodPatch, "/api/records/v1/author/2", `{"name":"Bobby"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"id":2,"name":"Bobby"}`, rec.Body.String())

	rec = do(t, s, http.MethodGet, "/api/records/v1/author?limit=2&count=true", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page := decode(t, rec)
	assert.Len(t, page["records"], 2)
	assert.Equal(t, float64(3), page["total_count"])
	cursor, ok := page["cursor"].(string)
	require.True(t, ok)

	rec = do(t, s, http.MethodGet, "/api/records/v1/author?limit=2&cursor="+cursor, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	page = decode(t, rec)
	assert.Len(t, page["records"], 1)
	assert.Nil(t, page["cursor"])

	rec = do(t, s, http.MethodDelete, "/api/records/v1/author/2", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/records/v1/author/2", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["kind"])
}

func TestErrorStatus(t *testing.T) {
	s, _ := newTestServer(t, access.AllowAll{}, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		kind   string
	}{
		{"unknown table", http.MethodGet, "/api/records/v1/missing", "", http.StatusNotFound, "not_found"},
		{"bad filter", http.MethodGet, "/api/records/v1/author?filter[nope]=1", "", http.StatusBadRequest, "invalid_filter"},
		{"bad json", http.MethodPost, "/api/records/v1/author", `{"name":`, http.StatusBadRequest, "invalid_input"},
		{"unknown column", http.MethodPost, "/api/records/v1/author", `{"nope":1}`, http.StatusBadRequest, "invalid_input"},
		{"bad id", http.MethodGet, "/api/records/v1/author/abc", "", http.StatusBadRequest, "invalid_input"},
		{"bad schema mode", http.MethodGet, "/api/records/v1/author/schema?mode=bogus", "", http.StatusBadRequest, "invalid_input"},
		{"unknown route", http.MethodGet, "/api/other", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.kind, decode(t, rec)["kind"])
		})
	}
}

func TestSchemaEndpoint(t *testing.T) {
	s, _ := newTestServer(t, access.AllowAll{}, nil)

	rec := do(t, s, http.MethodGet, "/api/records/v1/author/schema?mode=insert", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	doc := decode(t, rec)
	assert.Equal(t, "author", doc["title"])
	assert.Contains(t, doc["required"], "name")
}

func TestBearerPrincipal(t *testing.T) {
	policy := access.NewPolicy([]access.Rule{{
		Table: "author",
		Read:  []string{access.Everyone},
		Write: []string{access.Authenticated},
	}})
	s, _ := newTestServer(t, policy, nil)
	const path = "/api/records/v1/author"

	rec := do(t, s, http.MethodPost, path, `{"name":"Ann"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "access_denied", decode(t, rec)["kind"])

	rec = do(t, s, http.MethodPost, path, `{"name":"Ann"}`, "Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	expired := token(t, jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Minute).Unix()})
	rec = do(t, s, http.MethodPost, path, `{"name":"Ann"}`, "Authorization", "Bearer "+expired)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodPost, path, `{"name":"Ann"}`, "Authorization", "Bearer "+token(t, jwt.MapClaims{"sub": "u1"}))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(t, s, http.MethodGet, path, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyToken(t *testing.T) {
	p, err := verifyToken([]byte(testSecret), token(t, jwt.MapClaims{"sub": "root", "admin": true}))
	require.NoError(t, err)
	assert.Equal(t, access.Principal{ID: "root", Admin: true}, p)

	_, err = verifyToken([]byte(testSecret), token(t, jwt.MapClaims{"admin": true}))
	assert.Error(t, err)

	_, err = verifyToken([]byte("other"), token(t, jwt.MapClaims{"sub": "root"}))
	assert.Error(t, err)
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, access.AllowAll{}, func(o *Options) {
		o.RateRPS = 0.001
		o.RateBurst = 2
	})

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodGet, "/api/healthcheck", "")
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(t, s, http.MethodGet, "/api/healthcheck", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestCORS(t *testing.T) {
	s, _ := newTestServer(t, access.AllowAll{}, func(o *Options) {
		o.CORSOrigins = []string{"https://app.example"}
	})

	rec := do(t, s, http.MethodOptions, "/api/records/v1/author", "",
		"Origin", "https://app.example",
		"Access-Control-Request-Method", http.MethodPost)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubscribeStream(t *testing.T) {
	s, svc := newTestServer(t, access.AllowAll{}, nil)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/records/v1/author/subscribe/*", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	_, err = svc.Create(ctx, access.AnonymousPrincipal, "author", json.RawMessage(`{"name":"Ann"}`))
	require.NoError(t, err)

	var data string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if v, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
			data = v
			break
		}
	}
	require.NotEmpty(t, data)
	assert.JSONEq(t, `{"Insert":{"id":1,"name":"Ann"},"table":"author","seq":1}`, data)

	missing, err := http.Get(ts.URL + "/api/records/v1/author/subscribe/42")
	require.NoError(t, err)
	defer missing.Body.Close()
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestServe_Shutdown(t *testing.T) {
	s, _ := newTestServer(t, access.AllowAll{}, func(o *Options) { o.Address = "127.0.0.1:0" })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"kind":"unknown","message":"internal error"}`, rec.Body.String())
}
