package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zane-analytics/meta-ads-mcp/internal/api"
	"github.com/zane-analytics/meta-ads-mcp/internal/auth"
	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
	"github.com/zane-analytics/meta-ads-mcp/internal/mcp"
	"github.com/zane-analytics/meta-ads-mcp/internal/metaads"
	"github.com/zane-analytics/meta-ads-mcp/internal/policy"
	"github.com/zane-analytics/meta-ads-mcp/internal/protocol"
	"github.com/zane-analytics/meta-ads-mcp/internal/session"
	"github.com/zane-analytics/meta-ads-mcp/internal/ssehub"
	"github.com/zane-analytics/meta-ads-mcp/tests/helpers"
)

type serverFixture struct {
	e        *echo.Echo
	hub      *ssehub.Hub
	verifier *auth.Verifier
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	ctx := context.Background()

	db := helpers.NewTestSQLiteStore(t)
	require.NoError(t, db.CreateUser(ctx, &domain.UserIdentity{UserID: "user-1"}))
	require.NoError(t, db.CreateAdAccount(ctx, &domain.AdAccount{
		AccountID: "111", UserID: "user-1", AccessToken: "meta-tok", IsActive: true,
	}))

	sessions := session.NewRegistry(30*time.Minute, nil)
	verifier := auth.NewVerifier("test-secret")
	factory := metaads.Factory(func(string) metaads.Provider { return metaads.NewMockProvider() })
	engine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	require.NoError(t, err)

	dispatcher := mcp.NewDispatcher(db, sessions, verifier, factory, engine, nil)

	hub := ssehub.NewHub()
	go hub.Run()

	h := api.NewHandler(dispatcher, hub, sessions, 25*time.Millisecond)
	e := echo.New()
	h.RegisterRoutes(e)

	return &serverFixture{e: e, hub: hub, verifier: verifier}
}

func (f *serverFixture) post(body, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func TestInfoEndpoint(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var info map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, mcp.ServerName, info["name"])
	assert.Equal(t, mcp.ProtocolVersion, info["protocolVersion"])
}

func TestHealthEndpoint(t *testing.T) {
	f := newServerFixture(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["status"])
}

func TestPostInitialize(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05"}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID     json.RawMessage `json:"id"`
		Result json.RawMessage `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1", string(resp.ID))
	assert.Contains(t, string(resp.Result), "serverInfo")
}

func TestPostNotificationReturns204(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(`{"jsonrpc":"2.0","method":"notifications/initialized"}`, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestPostParseErrorReturns400Envelope(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(`{"jsonrpc":`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp struct {
		ID    json.RawMessage `json:"id"`
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "null", string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeParseError, resp.Error.Code)
}

func TestPostInvalidRequestKeepsID(t *testing.T) {
	f := newServerFixture(t)

	// Valid JSON, invalid envelope; the id survives into the error response.
	rec := f.post(`{"jsonrpc":"2.0","id":"req-7"}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		ID    json.RawMessage `json:"id"`
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, `"req-7"`, string(resp.ID))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeInvalidRequest, resp.Error.Code)
}

func TestPostToolsCallUnauthorized(t *testing.T) {
	f := newServerFixture(t)

	rec := f.post(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"account-ROAS"}}`, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Error *struct {
			Code int `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, protocol.CodeUnauthorized, resp.Error.Code)
}

func TestPostToolsCallAuthorized(t *testing.T) {
	f := newServerFixture(t)
	tok, err := f.verifier.Issue("user-1", time.Hour)
	require.NoError(t, err)

	rec := f.post(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"account-ROAS","arguments":{}}}`, tok)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"result"`)
	assert.NotContains(t, rec.Body.String(), `"error"`)
}

func TestSSEStreamOpensWithConnectionEvent(t *testing.T) {
	f := newServerFixture(t)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/sse?token=tok-1", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	assert.Equal(t, "text/event-stream", rec.Header().Get(echo.HeaderContentType))
	assert.NotEmpty(t, rec.Header().Get("X-Connection-Id"))
	assert.Contains(t, rec.Body.String(), `"type":"connection"`)
	// The keepalive ticker fires at least once within the stream lifetime.
	assert.Contains(t, rec.Body.String(), ": keepalive")
}

func TestResponsePushedToOpenStream(t *testing.T) {
	f := newServerFixture(t)
	tok, err := f.verifier.Issue("user-1", time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	streamDone := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		req := httptest.NewRequest(http.MethodGet, "/sse?token="+tok, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		f.e.ServeHTTP(rec, req)
		streamDone <- rec
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !f.hub.HasActiveConnections(tok) {
		if time.Now().After(deadline) {
			t.Fatal("SSE stream never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec := f.post(`{"jsonrpc":"2.0","id":4,"method":"ping"}`, tok)
	assert.Equal(t, http.StatusOK, rec.Code)

	// The same envelope that answered the POST is mirrored onto the stream.
	time.Sleep(100 * time.Millisecond)
	cancel()
	stream := <-streamDone
	assert.Contains(t, stream.Body.String(), `"id":4`)
}
