// Package mcp dispatches JSON-RPC methods to the fixed MCP method surface:
// initialize, tools/list, tools/call and ping.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/zane-analytics/meta-ads-mcp/internal/auth"
	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
	"github.com/zane-analytics/meta-ads-mcp/internal/metaads"
	"github.com/zane-analytics/meta-ads-mcp/internal/policy"
	"github.com/zane-analytics/meta-ads-mcp/internal/protocol"
	"github.com/zane-analytics/meta-ads-mcp/internal/session"
	"github.com/zane-analytics/meta-ads-mcp/internal/store"
)

// Server identity reported by initialize.
const (
	ProtocolVersion = "2024-11-05"
	ServerName      = "meta-ads-mcp"
	ServerVersion   = "1.0.0"
)

// Dispatcher routes decoded envelopes to method handlers. It is stateless
// apart from the session registry it consults; provider calls happen without
// any registry lock held.
type Dispatcher struct {
	store     store.Store
	sessions  *session.Registry
	verifier  *auth.Verifier
	providers metaads.Factory
	policy    *policy.Engine
	now       func() time.Time
}

// NewDispatcher creates a dispatcher. A nil clock defaults to time.Now.
func NewDispatcher(st store.Store, sessions *session.Registry, verifier *auth.Verifier, providers metaads.Factory, policyEngine *policy.Engine, now func() time.Time) *Dispatcher {
	if now == nil {
		now = time.Now
	}
	return &Dispatcher{
		store:     st,
		sessions:  sessions,
		verifier:  verifier,
		providers: providers,
		policy:    policyEngine,
		now:       now,
	}
}

// rpcError is an internal handler failure that maps onto one error envelope.
type rpcError struct {
	code    int
	message string
	data    interface{}
}

func (e *rpcError) Error() string { return e.message }

// Handle processes one message and returns the response envelope, or nil for
// notifications, which never receive a response even when handling fails.
func (d *Dispatcher) Handle(ctx context.Context, msg *protocol.Message, token string) *protocol.Message {
	result, rpcErr := d.dispatch(ctx, msg, token)

	if msg.IsNotification() {
		if rpcErr != nil {
			log.Printf("WARN: notification %s failed: %s", msg.Method, rpcErr.message)
		}
		return nil
	}

	if rpcErr != nil {
		return protocol.NewErrorResponse(msg.ID, rpcErr.code, rpcErr.message, rpcErr.data)
	}
	resp, err := protocol.NewResponse(msg.ID, result)
	if err != nil {
		log.Printf("ERROR: failed to encode %s result: %v", msg.Method, err)
		return protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, "Internal error", nil)
	}
	return resp
}

func (d *Dispatcher) dispatch(ctx context.Context, msg *protocol.Message, token string) (interface{}, *rpcError) {
	switch msg.Method {
	case "initialize":
		return d.handleInitialize(msg.Params, token)
	case "initialized", "notifications/initialized":
		// Client-ready notification; nothing to do.
		return map[string]interface{}{}, nil
	case "tools/list":
		return d.handleToolsList()
	case "tools/call":
		return d.handleToolsCall(ctx, msg.Params, token)
	case "ping":
		return map[string]interface{}{}, nil
	default:
		return nil, &rpcError{
			code:    protocol.CodeMethodNotFound,
			message: fmt.Sprintf("Method not found: %s", msg.Method),
		}
	}
}

type initializeParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	ClientInfo      json.RawMessage `json:"clientInfo"`
	Capabilities    json.RawMessage `json:"capabilities"`
}

// handleInitialize answers the handshake. No auth is required, but when a
// bearer token accompanies the request the session is established right away
// so the client info is recorded on first contact.
func (d *Dispatcher) handleInitialize(params json.RawMessage, token string) (interface{}, *rpcError) {
	var p initializeParams
	if len(params) > 0 {
		_ = json.Unmarshal(params, &p)
	}
	version := p.ProtocolVersion
	if version == "" {
		version = ProtocolVersion
	}

	if token != "" {
		if userID, err := d.verifier.Verify(token); err == nil {
			if _, err := d.sessions.Establish(token, userID, p.ClientInfo); err != nil {
				log.Printf("WARN: could not establish session on initialize: %v", err)
			}
		}
	}

	return map[string]interface{}{
		"protocolVersion": version,
		"capabilities": map[string]interface{}{
			"tools": map[string]interface{}{},
		},
		"serverInfo": map[string]interface{}{
			"name":    ServerName,
			"version": ServerVersion,
		},
	}, nil
}

func (d *Dispatcher) handleToolsList() (interface{}, *rpcError) {
	return map[string]interface{}{"tools": Catalog()}, nil
}

type callParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, params json.RawMessage, token string) (interface{}, *rpcError) {
	sess, rpcErr := d.resolveSession(ctx, token)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var p callParams
	if err := json.Unmarshal(params, &p); err != nil || p.Name == "" {
		return nil, &rpcError{code: protocol.CodeInvalidParams, message: "Invalid params: tool name is required"}
	}

	kind, ok := toolByName(p.Name)
	if !ok {
		return nil, &rpcError{code: protocol.CodeInvalidParams, message: fmt.Sprintf("Invalid params: unknown tool %q", p.Name)}
	}

	args, rpcErr := d.parseToolArgs(p.Arguments)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if rpcErr := d.checkPolicy(ctx, sess.UserID, p.Name, p.Arguments); rpcErr != nil {
		return nil, rpcErr
	}

	result, rpcErr := d.executeTool(ctx, sess, kind, args)
	if rpcErr != nil {
		return nil, rpcErr
	}

	d.sessions.Touch(sess.Token)
	return result, nil
}

// resolveSession maps a bearer token to a live session. A token the registry
// has never seen is verified against the store and promoted exactly once;
// closed or expired tokens always fail.
func (d *Dispatcher) resolveSession(ctx context.Context, token string) (domain.Session, *rpcError) {
	unauthorized := &rpcError{code: protocol.CodeUnauthorized, message: "Unauthorized"}
	if token == "" {
		return domain.Session{}, unauthorized
	}

	sess, err := d.sessions.Resolve(token)
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, session.ErrUnknownToken) {
		return domain.Session{}, unauthorized
	}

	userID, err := d.verifier.Verify(token)
	if err != nil {
		return domain.Session{}, unauthorized
	}
	user, err := d.store.GetUser(ctx, userID)
	if err != nil {
		log.Printf("ERROR: user lookup failed: %v", err)
		return domain.Session{}, &rpcError{code: protocol.CodeInternalError, message: "Internal error"}
	}
	if user == nil {
		return domain.Session{}, unauthorized
	}

	sess, err = d.sessions.Establish(token, userID, nil)
	if err != nil {
		return domain.Session{}, unauthorized
	}
	return sess, nil
}

func (d *Dispatcher) checkPolicy(ctx context.Context, userID, tool string, rawArgs json.RawMessage) *rpcError {
	if d.policy == nil {
		return nil
	}

	input := map[string]interface{}{
		"tool":    tool,
		"user_id": userID,
		"args":    map[string]interface{}{},
	}
	if len(rawArgs) > 0 {
		var argsMap map[string]interface{}
		if err := json.Unmarshal(rawArgs, &argsMap); err == nil {
			input["args"] = argsMap
		}
	}

	decision, reason, err := d.policy.Evaluate(ctx, input)
	if err != nil {
		log.Printf("ERROR: policy evaluation failed: %v", err)
		return &rpcError{code: protocol.CodeInternalError, message: "Internal error"}
	}
	if decision == "block" {
		msg := "Tool call blocked by policy"
		if reason != "" {
			msg = fmt.Sprintf("%s: %s", msg, reason)
		}
		return &rpcError{code: protocol.CodeBlocked, message: msg}
	}
	return nil
}

// withRetry runs a provider call, retrying exactly once with no artificial
// delay before giving up.
func withRetry(ctx context.Context, call func() error) error {
	err := call()
	if err == nil || ctx.Err() != nil {
		return err
	}
	return call()
}
