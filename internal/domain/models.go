// Package domain defines the core domain models for the MCP relay.
package domain

import (
	"encoding/json"
	"time"
)

// UserIdentity is the resolved identity behind a bearer token.
type UserIdentity struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Name   string `json:"name,omitempty"`
}

// Session binds an opaque bearer token to an identity plus activity state.
// Sessions are owned by the session registry and mutated only there.
type Session struct {
	Token          string          `json:"token"`
	UserID         string          `json:"user_id"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActivityAt time.Time       `json:"last_activity_at"`
	ClientInfo     json.RawMessage `json:"client_info,omitempty"`
	IsActive       bool            `json:"is_active"`
}

// AdAccount is a read-only view of a connected ad account from the
// credential store. The relay never mutates accounts; it only reads ids and
// access tokens to scope provider queries.
type AdAccount struct {
	AccountID    string     `json:"account_id"`
	UserID       string     `json:"user_id"`
	AccountName  string     `json:"account_name,omitempty"`
	AccessToken  string     `json:"-"`
	IsActive     bool       `json:"is_active"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// MetricsQuery is the date window passed through to the ads provider.
type MetricsQuery struct {
	Since string `json:"since"` // YYYY-MM-DD
	Until string `json:"until"` // YYYY-MM-DD
}

// MetricsResult is one row of provider metrics. Account-level rows leave
// CampaignID and AdID empty; campaign rows set CampaignID; ad rows set all
// three. The relay serializes it faithfully and only ranks, never rewrites.
type MetricsResult struct {
	AccountID   string  `json:"account_id"`
	CampaignID  string  `json:"campaign_id,omitempty"`
	AdID        string  `json:"ad_id,omitempty"`
	Name        string  `json:"name,omitempty"`
	Spend       float64 `json:"spend"`
	Revenue     float64 `json:"revenue"`
	ROAS        float64 `json:"roas"`
	WindowStart string  `json:"window_start"`
	WindowEnd   string  `json:"window_end"`
}
