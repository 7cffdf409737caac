package metaads_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
	"github.com/zane-analytics/meta-ads-mcp/internal/metaads"
)

func insightsStub(t *testing.T, wantPath string, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, wantPath, r.URL.Path)
		assert.Equal(t, "tok-1", r.URL.Query().Get("access_token"))
		assert.Equal(t, "500", r.URL.Query().Get("limit"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func TestAccountMetricsParsesInsights(t *testing.T) {
	srv := insightsStub(t, "/v21.0/act_111/insights", `{"data":[{
		"account_name":"Main",
		"spend":"120.50",
		"purchase_roas":[{"action_type":"omni_purchase","value":"3.75"}],
		"action_values":[
			{"action_type":"purchase","value":"300.00"},
			{"action_type":"omni_purchase","value":"150.00"},
			{"action_type":"link_click","value":"999.00"}
		]
	}]}`)
	defer srv.Close()

	c := metaads.NewClient(srv.URL, "v21.0", "tok-1", 5*time.Second)
	q := domain.MetricsQuery{Since: "2025-05-01", Until: "2025-05-31"}

	m, err := c.AccountMetrics(context.Background(), "111", q)
	require.NoError(t, err)
	assert.Equal(t, "Main", m.Name)
	assert.Equal(t, 120.50, m.Spend)
	// Only purchase action types count as revenue.
	assert.Equal(t, 450.00, m.Revenue)
	// The provider-reported ROAS wins over the derived one.
	assert.Equal(t, 3.75, m.ROAS)
	assert.Equal(t, "2025-05-01", m.WindowStart)
	assert.Equal(t, "2025-05-31", m.WindowEnd)
}

func TestAccountMetricsDerivesROASWhenMissing(t *testing.T) {
	srv := insightsStub(t, "/v21.0/act_111/insights", `{"data":[{
		"spend":"100.00",
		"action_values":[{"action_type":"purchase","value":"250.00"}]
	}]}`)
	defer srv.Close()

	c := metaads.NewClient(srv.URL, "v21.0", "tok-1", 5*time.Second)
	m, err := c.AccountMetrics(context.Background(), "111", domain.MetricsQuery{Since: "2025-05-01", Until: "2025-05-31"})
	require.NoError(t, err)
	assert.Equal(t, 2.5, m.ROAS)
}

func TestAccountMetricsEmptyWindow(t *testing.T) {
	srv := insightsStub(t, "/v21.0/act_111/insights", `{"data":[]}`)
	defer srv.Close()

	c := metaads.NewClient(srv.URL, "v21.0", "tok-1", 5*time.Second)
	m, err := c.AccountMetrics(context.Background(), "111", domain.MetricsQuery{Since: "2025-05-01", Until: "2025-05-31"})
	require.NoError(t, err)
	assert.Zero(t, m.Spend)
	assert.Zero(t, m.ROAS)
}

func TestCampaignMetrics(t *testing.T) {
	srv := insightsStub(t, "/v21.0/act_111/insights", `{"data":[
		{"campaign_id":"c1","campaign_name":"Spring","spend":"60","action_values":[{"action_type":"purchase","value":"300"}]},
		{"campaign_id":"c2","campaign_name":"Summer","spend":"40","action_values":[{"action_type":"purchase","value":"150"}]}
	]}`)
	defer srv.Close()

	c := metaads.NewClient(srv.URL, "v21.0", "tok-1", 5*time.Second)
	campaigns, err := c.CampaignMetrics(context.Background(), "111", domain.MetricsQuery{Since: "2025-05-01", Until: "2025-05-31"})
	require.NoError(t, err)
	require.Len(t, campaigns, 2)
	assert.Equal(t, "c1", campaigns[0].CampaignID)
	assert.Equal(t, "Spring", campaigns[0].Name)
	assert.Equal(t, 5.0, campaigns[0].ROAS)
}

func TestAdMetrics(t *testing.T) {
	srv := insightsStub(t, "/v21.0/act_111/insights", `{"data":[
		{"ad_id":"a1","ad_name":"Reel","campaign_id":"c1","spend":"10","action_values":[{"action_type":"purchase","value":"90"}]}
	]}`)
	defer srv.Close()

	c := metaads.NewClient(srv.URL, "v21.0", "tok-1", 5*time.Second)
	ads, err := c.AdMetrics(context.Background(), "111", domain.MetricsQuery{Since: "2025-05-01", Until: "2025-05-31"})
	require.NoError(t, err)
	require.Len(t, ads, 1)
	assert.Equal(t, "a1", ads[0].AdID)
	assert.Equal(t, "c1", ads[0].CampaignID)
	assert.Equal(t, 9.0, ads[0].ROAS)
}

func TestAPIErrorIsUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`)
	}))
	defer srv.Close()

	c := metaads.NewClient(srv.URL, "v21.0", "tok-1", 5*time.Second)
	_, err := c.AccountMetrics(context.Background(), "111", domain.MetricsQuery{Since: "2025-05-01", Until: "2025-05-31"})
	require.Error(t, err)
	assert.ErrorIs(t, err, metaads.ErrUpstream)
	assert.Contains(t, err.Error(), "Invalid OAuth access token")
}

func TestUnreachableHostIsUpstream(t *testing.T) {
	c := metaads.NewClient("http://127.0.0.1:1", "v21.0", "tok-1", 100*time.Millisecond)
	_, err := c.AccountMetrics(context.Background(), "111", domain.MetricsQuery{Since: "2025-05-01", Until: "2025-05-31"})
	assert.ErrorIs(t, err, metaads.ErrUpstream)
}

func TestCalculateROAS(t *testing.T) {
	cases := []struct {
		name    string
		spend   float64
		revenue float64
		want    float64
	}{
		{"Zero Spend", 0, 500, 0},
		{"Exact", 100, 450, 4.5},
		{"Rounded", 150, 500, 3.33},
		{"Zero Revenue", 100, 0, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, metaads.CalculateROAS(tc.spend, tc.revenue))
		})
	}
}
