package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
	"github.com/zane-analytics/meta-ads-mcp/internal/metaads"
	"github.com/zane-analytics/meta-ads-mcp/internal/protocol"
)

// toolKind enumerates the closed set of data-query tools. Adding a tool
// means extending this enum and the switch in executeTool.
type toolKind int

const (
	toolAccountROAS toolKind = iota
	toolCampaignsROAS
	toolTopAdsByROAS
	toolAllAccountsSummary
)

const (
	nameAccountROAS        = "account-ROAS"
	nameCampaignsROAS      = "campaigns-ROAS"
	nameTopAdsByROAS       = "top-ads-by-ROAS"
	nameAllAccountsSummary = "all-accounts-summary"
)

func toolByName(name string) (toolKind, bool) {
	switch name {
	case nameAccountROAS:
		return toolAccountROAS, true
	case nameCampaignsROAS:
		return toolCampaignsROAS, true
	case nameTopAdsByROAS:
		return toolTopAdsByROAS, true
	case nameAllAccountsSummary:
		return toolAllAccountsSummary, true
	}
	return 0, false
}

// Tool describes one catalog entry for tools/list.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

// ContentBlock is one MCP content element of a tool result.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult is the result payload of tools/call.
type CallResult struct {
	Content []ContentBlock `json:"content"`
}

func textResult(text string) *CallResult {
	return &CallResult{Content: []ContentBlock{{Type: "text", Text: text}}}
}

var windowProps = map[string]interface{}{
	"since": map[string]interface{}{"type": "string", "description": "Start date YYYY-MM-DD (defaults to 30 days ago)"},
	"until": map[string]interface{}{"type": "string", "description": "End date YYYY-MM-DD (defaults to today)"},
}

func schema(extra map[string]interface{}) map[string]interface{} {
	props := map[string]interface{}{}
	for k, v := range windowProps {
		props[k] = v
	}
	for k, v := range extra {
		props[k] = v
	}
	return map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"required":             []string{},
		"additionalProperties": false,
	}
}

// Catalog returns the fixed tool list exposed by tools/list.
func Catalog() []Tool {
	accountID := map[string]interface{}{
		"accountId": map[string]interface{}{"type": "string", "description": "Meta ad account id (defaults to the first active account)"},
	}
	return []Tool{
		{
			Name:        nameAccountROAS,
			Description: "Whole-account spend, revenue and ROAS for a date window",
			InputSchema: schema(accountID),
		},
		{
			Name:        nameCampaignsROAS,
			Description: "Per-campaign spend, revenue and ROAS for a date window",
			InputSchema: schema(accountID),
		},
		{
			Name:        nameTopAdsByROAS,
			Description: "Top N ads ranked by ROAS descending, ties broken by higher spend",
			InputSchema: schema(map[string]interface{}{
				"accountId": accountID["accountId"],
				"limit":     map[string]interface{}{"type": "number", "description": "Number of top ads (default: 10)"},
			}),
		},
		{
			Name:        nameAllAccountsSummary,
			Description: "Aggregate spend, revenue and ROAS across every connected account",
			InputSchema: schema(nil),
		},
	}
}

type toolArgs struct {
	AccountID string `json:"accountId"`
	Since     string `json:"since"`
	Until     string `json:"until"`
	Limit     int    `json:"limit"`
}

func (d *Dispatcher) parseToolArgs(raw json.RawMessage) (toolArgs, *rpcError) {
	var args toolArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return args, &rpcError{code: protocol.CodeInvalidParams, message: "Invalid params: malformed arguments"}
		}
	}
	if args.Limit < 0 {
		return args, &rpcError{code: protocol.CodeInvalidParams, message: "Invalid params: limit must be positive"}
	}
	if args.Limit == 0 {
		args.Limit = 10
	}

	now := d.now()
	if args.Since == "" {
		args.Since = now.AddDate(0, 0, -30).Format("2006-01-02")
	}
	if args.Until == "" {
		args.Until = now.Format("2006-01-02")
	}
	return args, nil
}

func (d *Dispatcher) executeTool(ctx context.Context, sess domain.Session, kind toolKind, args toolArgs) (interface{}, *rpcError) {
	accounts, err := d.store.ListAdAccounts(ctx, sess.UserID)
	if err != nil {
		log.Printf("ERROR: account listing failed: %v", err)
		return nil, &rpcError{code: protocol.CodeInternalError, message: "Internal error"}
	}

	var active []domain.AdAccount
	for _, acc := range accounts {
		if acc.IsActive {
			active = append(active, acc)
		}
	}
	if len(active) == 0 {
		return textResult("No active Meta Ads accounts configured. Add an ad account id and access token in the dashboard before querying data."), nil
	}

	query := domain.MetricsQuery{Since: args.Since, Until: args.Until}

	switch kind {
	case toolAccountROAS:
		return d.accountROAS(ctx, active, args.AccountID, query)
	case toolCampaignsROAS:
		return d.campaignsROAS(ctx, active, args.AccountID, query)
	case toolTopAdsByROAS:
		return d.topAdsByROAS(ctx, active, args.AccountID, query, args.Limit)
	case toolAllAccountsSummary:
		return d.allAccountsSummary(ctx, active, query)
	}
	// Unreachable: toolByName only produces the kinds above.
	return nil, &rpcError{code: protocol.CodeInternalError, message: "Internal error"}
}

func selectAccount(active []domain.AdAccount, accountID string) (domain.AdAccount, *rpcError) {
	if accountID == "" {
		return active[0], nil
	}
	for _, acc := range active {
		if acc.AccountID == accountID {
			return acc, nil
		}
	}
	available := make([]string, 0, len(active))
	for _, acc := range active {
		available = append(available, acc.AccountID)
	}
	return domain.AdAccount{}, &rpcError{
		code:    protocol.CodeInvalidParams,
		message: fmt.Sprintf("Invalid params: account %q is not connected", accountID),
		data:    map[string]interface{}{"available_accounts": available},
	}
}

func upstreamError(err error) *rpcError {
	return &rpcError{
		code:    protocol.CodeUpstreamUnavailable,
		message: "Upstream ads provider unavailable",
		data:    map[string]interface{}{"error": err.Error()},
	}
}

func (d *Dispatcher) accountROAS(ctx context.Context, active []domain.AdAccount, accountID string, q domain.MetricsQuery) (interface{}, *rpcError) {
	acct, rpcErr := selectAccount(active, accountID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	provider := d.providers(acct.AccessToken)
	var m *domain.MetricsResult
	err := withRetry(ctx, func() error {
		var callErr error
		m, callErr = provider.AccountMetrics(ctx, acct.AccountID, q)
		return callErr
	})
	if err != nil {
		return nil, upstreamError(err)
	}

	name := m.Name
	if name == "" {
		name = acct.AccountName
	}
	return textResult(fmt.Sprintf("Account %s (%s), %s to %s: spend $%.2f, revenue $%.2f, ROAS %.2f",
		name, acct.AccountID, q.Since, q.Until, m.Spend, m.Revenue, m.ROAS)), nil
}

func (d *Dispatcher) campaignsROAS(ctx context.Context, active []domain.AdAccount, accountID string, q domain.MetricsQuery) (interface{}, *rpcError) {
	acct, rpcErr := selectAccount(active, accountID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	provider := d.providers(acct.AccessToken)
	var campaigns []domain.MetricsResult
	err := withRetry(ctx, func() error {
		var callErr error
		campaigns, callErr = provider.CampaignMetrics(ctx, acct.AccountID, q)
		return callErr
	})
	if err != nil {
		return nil, upstreamError(err)
	}

	if len(campaigns) == 0 {
		return textResult(fmt.Sprintf("No campaign data for account %s between %s and %s.", acct.AccountID, q.Since, q.Until)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Campaigns for account %s, %s to %s:\n", acct.AccountID, q.Since, q.Until)
	for _, c := range campaigns {
		fmt.Fprintf(&b, "- %s (%s): spend $%.2f, revenue $%.2f, ROAS %.2f\n",
			c.Name, c.CampaignID, c.Spend, c.Revenue, c.ROAS)
	}
	return textResult(strings.TrimRight(b.String(), "\n")), nil
}

func (d *Dispatcher) topAdsByROAS(ctx context.Context, active []domain.AdAccount, accountID string, q domain.MetricsQuery, limit int) (interface{}, *rpcError) {
	acct, rpcErr := selectAccount(active, accountID)
	if rpcErr != nil {
		return nil, rpcErr
	}

	provider := d.providers(acct.AccessToken)
	var ads []domain.MetricsResult
	err := withRetry(ctx, func() error {
		var callErr error
		ads, callErr = provider.AdMetrics(ctx, acct.AccountID, q)
		return callErr
	})
	if err != nil {
		return nil, upstreamError(err)
	}

	ranked := RankByROAS(ads, limit)
	if len(ranked) == 0 {
		return textResult(fmt.Sprintf("No ad data for account %s between %s and %s.", acct.AccountID, q.Since, q.Until)), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top %d ads by ROAS for account %s, %s to %s:\n", len(ranked), acct.AccountID, q.Since, q.Until)
	for i, ad := range ranked {
		fmt.Fprintf(&b, "%d. %s (%s): ROAS %.2f, spend $%.2f, revenue $%.2f\n",
			i+1, ad.Name, ad.AdID, ad.ROAS, ad.Spend, ad.Revenue)
	}
	return textResult(strings.TrimRight(b.String(), "\n")), nil
}

func (d *Dispatcher) allAccountsSummary(ctx context.Context, active []domain.AdAccount, q domain.MetricsQuery) (interface{}, *rpcError) {
	var (
		rows         []string
		totalSpend   float64
		totalRevenue float64
		fetched      int
	)
	for _, acct := range active {
		provider := d.providers(acct.AccessToken)
		var m *domain.MetricsResult
		err := withRetry(ctx, func() error {
			var callErr error
			m, callErr = provider.AccountMetrics(ctx, acct.AccountID, q)
			return callErr
		})
		if err != nil {
			// One broken account must not hide the rest.
			log.Printf("WARN: skipping account %s in summary: %v", acct.AccountID, err)
			rows = append(rows, fmt.Sprintf("- %s: unavailable", acct.AccountID))
			continue
		}
		fetched++
		totalSpend += m.Spend
		totalRevenue += m.Revenue
		rows = append(rows, fmt.Sprintf("- %s: spend $%.2f, revenue $%.2f, ROAS %.2f",
			acct.AccountID, m.Spend, m.Revenue, m.ROAS))
	}

	if fetched == 0 {
		return nil, upstreamError(fmt.Errorf("no account could be queried"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Summary for %d accounts, %s to %s:\n", len(active), q.Since, q.Until)
	b.WriteString(strings.Join(rows, "\n"))
	fmt.Fprintf(&b, "\nTotal: spend $%.2f, revenue $%.2f, overall ROAS %.2f",
		totalSpend, totalRevenue, metaads.CalculateROAS(totalSpend, totalRevenue))
	return textResult(b.String()), nil
}

// RankByROAS orders ads by ROAS descending, breaking ties by higher spend,
// and truncates to limit.
func RankByROAS(ads []domain.MetricsResult, limit int) []domain.MetricsResult {
	ranked := make([]domain.MetricsResult, len(ads))
	copy(ranked, ads)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ROAS != ranked[j].ROAS {
			return ranked[i].ROAS > ranked[j].ROAS
		}
		return ranked[i].Spend > ranked[j].Spend
	})
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}
