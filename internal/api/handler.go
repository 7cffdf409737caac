// Package api provides the HTTP/SSE transport for the MCP relay.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/zane-analytics/meta-ads-mcp/internal/mcp"
	"github.com/zane-analytics/meta-ads-mcp/internal/protocol"
	"github.com/zane-analytics/meta-ads-mcp/internal/session"
	"github.com/zane-analytics/meta-ads-mcp/internal/ssehub"
)

// Handler handles HTTP requests.
type Handler struct {
	dispatcher *mcp.Dispatcher
	hub        *ssehub.Hub
	sessions   *session.Registry
	keepalive  time.Duration
}

// NewHandler creates a new handler.
func NewHandler(dispatcher *mcp.Dispatcher, hub *ssehub.Hub, sessions *session.Registry, keepalive time.Duration) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		hub:        hub,
		sessions:   sessions,
		keepalive:  keepalive,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/", h.Info)
	e.POST("/", h.HandleMessage)
	e.GET("/sse", h.HandleSSE)
	e.GET("/health", h.Health)
}

// Info returns server discovery metadata.
func (h *Handler) Info(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":            mcp.ServerName,
		"version":         mcp.ServerVersion,
		"protocol":        "mcp",
		"protocolVersion": mcp.ProtocolVersion,
		"transport":       "http+sse",
		"description":     "Connect an LLM client to your Meta Ads accounts",
	})
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":          "healthy",
		"version":         mcp.ServerVersion,
		"sse_connections": h.hub.ConnectionCount(),
		"active_sessions": h.sessions.ActiveCount(),
	})
}

// HandleMessage is the JSON-RPC ingress. Requests are answered in the POST
// body; when the session also holds open SSE streams the same envelope is
// pushed there, in dispatch order. Notifications get a 204 and no body.
func (h *Handler) HandleMessage(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		envelope := protocol.NewErrorResponse(nil, protocol.CodeParseError, "Parse error", nil)
		return c.JSON(http.StatusBadRequest, envelope)
	}

	token := bearerToken(c)

	msg, decErr := protocol.Decode(body)
	if decErr != nil {
		rpcErr := &protocol.RPCError{Code: protocol.CodeInternalError, Message: "Internal error"}
		if perr, ok := decErr.(*protocol.RPCError); ok {
			rpcErr = perr
		}
		envelope := protocol.NewErrorResponse(recoverID(body), rpcErr.Code, rpcErr.Message, nil)
		status := http.StatusOK
		if rpcErr.Code == protocol.CodeParseError {
			status = http.StatusBadRequest
		}
		return c.JSON(status, envelope)
	}

	resp := h.dispatcher.Handle(c.Request().Context(), msg, token)
	if resp == nil {
		return c.NoContent(http.StatusNoContent)
	}

	if token != "" && h.hub.HasActiveConnections(token) {
		if data, err := protocol.Encode(resp); err == nil {
			h.hub.Broadcast(token, data)
		}
	}

	return c.JSON(http.StatusOK, resp)
}

// HandleSSE holds the long-lived event stream open and writes queued frames
// in order until the client disconnects. Pending frames are discarded on
// disconnect; the session itself is left untouched so the client can resume
// with the same token.
func (h *Handler) HandleSSE(c echo.Context) error {
	token := bearerToken(c)

	conn := h.hub.NewConnection(token)
	h.hub.Register(conn)
	defer h.hub.Unregister(conn)

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.Header().Set("X-Connection-Id", conn.ID)
	resp.WriteHeader(http.StatusOK)

	if err := writeEvent(resp, fmt.Sprintf(`{"type":"connection","connectionId":"%s"}`, conn.ID)); err != nil {
		return nil
	}

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	ctx := c.Request().Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-conn.Send:
			if !ok {
				return nil
			}
			if err := writeEvent(resp, string(data)); err != nil {
				log.Printf("WARN: SSE write failed on %s: %v", conn.ID, err)
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(resp, ": keepalive\n\n"); err != nil {
				return nil
			}
			resp.Flush()
		}
	}
}

func writeEvent(resp *echo.Response, payload string) error {
	if _, err := fmt.Fprintf(resp, "data: %s\n\n", payload); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

// bearerToken extracts the session token from the Authorization header or,
// for EventSource clients that cannot set headers, the token query param.
func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return c.QueryParam("token")
}

// recoverID pulls a best-effort id out of an undecodable payload so the
// error envelope can still correlate.
func recoverID(body []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	return probe.ID
}
