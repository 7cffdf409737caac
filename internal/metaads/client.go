// Package metaads provides the Meta Marketing API client used to fetch
// spend, revenue and ROAS metrics for connected ad accounts.
package metaads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
)

// ErrUpstream wraps any provider failure that survived the retry.
var ErrUpstream = errors.New("meta ads provider unavailable")

// Provider is the abstract metrics capability the dispatcher calls. Results
// are returned unranked; ranking is dispatcher business.
type Provider interface {
	AccountMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) (*domain.MetricsResult, error)
	CampaignMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) ([]domain.MetricsResult, error)
	AdMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) ([]domain.MetricsResult, error)
}

// Factory builds a provider bound to one account's access token.
type Factory func(accessToken string) Provider

// Client talks to the Meta Graph API insights endpoints.
type Client struct {
	baseURL     string
	apiVersion  string
	accessToken string
	httpClient  *http.Client
}

// NewClient creates a Meta API client for one access token.
func NewClient(baseURL, apiVersion, accessToken string, timeout time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiVersion:  apiVersion,
		accessToken: accessToken,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// NewFactory returns a Factory producing clients against the configured API
// endpoint.
func NewFactory(baseURL, apiVersion string, timeout time.Duration) Factory {
	return func(accessToken string) Provider {
		return NewClient(baseURL, apiVersion, accessToken, timeout)
	}
}

// insightRow mirrors one entry of the Graph API insights response. Numeric
// fields arrive as strings.
type insightRow struct {
	AccountName  string        `json:"account_name"`
	CampaignID   string        `json:"campaign_id"`
	CampaignName string        `json:"campaign_name"`
	AdID         string        `json:"ad_id"`
	AdName       string        `json:"ad_name"`
	Spend        string        `json:"spend"`
	PurchaseROAS []actionValue `json:"purchase_roas"`
	ActionValues []actionValue `json:"action_values"`
}

type actionValue struct {
	ActionType string `json:"action_type"`
	Value      string `json:"value"`
}

type insightsResponse struct {
	Data  []insightRow `json:"data"`
	Error *apiError    `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// AccountMetrics returns the whole-account row for the window.
func (c *Client) AccountMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) (*domain.MetricsResult, error) {
	rows, err := c.fetchInsights(ctx, accountID, q, "account",
		"account_name,spend,purchase_roas,actions,action_values")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return &domain.MetricsResult{AccountID: accountID, WindowStart: q.Since, WindowEnd: q.Until}, nil
	}
	result := rowToMetrics(rows[0], accountID, q)
	result.Name = rows[0].AccountName
	return &result, nil
}

// CampaignMetrics returns one row per campaign for the window.
func (c *Client) CampaignMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) ([]domain.MetricsResult, error) {
	rows, err := c.fetchInsights(ctx, accountID, q, "campaign",
		"campaign_id,campaign_name,spend,purchase_roas,actions,action_values")
	if err != nil {
		return nil, err
	}
	results := make([]domain.MetricsResult, 0, len(rows))
	for _, row := range rows {
		result := rowToMetrics(row, accountID, q)
		result.CampaignID = row.CampaignID
		result.Name = row.CampaignName
		results = append(results, result)
	}
	return results, nil
}

// AdMetrics returns one row per ad for the window, unranked.
func (c *Client) AdMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) ([]domain.MetricsResult, error) {
	rows, err := c.fetchInsights(ctx, accountID, q, "ad",
		"ad_id,ad_name,campaign_id,spend,purchase_roas,actions,action_values")
	if err != nil {
		return nil, err
	}
	results := make([]domain.MetricsResult, 0, len(rows))
	for _, row := range rows {
		result := rowToMetrics(row, accountID, q)
		result.CampaignID = row.CampaignID
		result.AdID = row.AdID
		result.Name = row.AdName
		results = append(results, result)
	}
	return results, nil
}

// fetchInsights issues the insights request and classifies any failure as
// ErrUpstream. The dispatcher owns the bounded retry.
func (c *Client) fetchInsights(ctx context.Context, accountID string, q domain.MetricsQuery, level, fields string) ([]insightRow, error) {
	rows, err := c.doInsights(ctx, accountID, q, level, fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	return rows, nil
}

func (c *Client) doInsights(ctx context.Context, accountID string, q domain.MetricsQuery, level, fields string) ([]insightRow, error) {
	params := url.Values{}
	params.Set("fields", fields)
	params.Set("level", level)
	params.Set("time_range", fmt.Sprintf(`{"since":"%s","until":"%s"}`, q.Since, q.Until))
	params.Set("limit", "500")
	params.Set("access_token", c.accessToken)

	endpoint := fmt.Sprintf("%s/%s/act_%s/insights?%s", c.baseURL, c.apiVersion, accountID, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var parsed insightsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("unparseable insights response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("meta api error %d: %s", parsed.Error.Code, parsed.Error.Message)
		}
		return nil, fmt.Errorf("meta api returned status %d", resp.StatusCode)
	}
	return parsed.Data, nil
}

// purchaseActionTypes are the action types counted as purchase revenue.
var purchaseActionTypes = map[string]bool{
	"purchase":                             true,
	"omni_purchase":                        true,
	"offsite_conversion.fb_pixel_purchase": true,
}

func rowToMetrics(row insightRow, accountID string, q domain.MetricsQuery) domain.MetricsResult {
	spend := parseFloat(row.Spend)

	revenue := 0.0
	for _, av := range row.ActionValues {
		if purchaseActionTypes[av.ActionType] {
			revenue += parseFloat(av.Value)
		}
	}

	roas := 0.0
	if len(row.PurchaseROAS) > 0 {
		roas = parseFloat(row.PurchaseROAS[0].Value)
	} else {
		roas = CalculateROAS(spend, revenue)
	}

	return domain.MetricsResult{
		AccountID:   accountID,
		Spend:       spend,
		Revenue:     revenue,
		ROAS:        roas,
		WindowStart: q.Since,
		WindowEnd:   q.Until,
	}
}

// CalculateROAS returns revenue/spend rounded to two decimals, 0 when spend
// is 0.
func CalculateROAS(spend, revenue float64) float64 {
	if spend == 0 {
		return 0
	}
	return math.Round(revenue/spend*100) / 100
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
