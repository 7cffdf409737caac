package metaads

import (
	"context"
	"fmt"

	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
)

// MockProvider is a canned-data implementation of Provider for testing and
// for running the server without Meta credentials.
type MockProvider struct {
	Accounts  map[string]domain.MetricsResult
	Campaigns map[string][]domain.MetricsResult
	Ads       map[string][]domain.MetricsResult
	Err       error
	// FailCalls makes the first N calls fail before succeeding, to exercise
	// the retry path.
	FailCalls int

	calls int
}

// Ensure MockProvider implements the Provider interface.
var _ Provider = (*MockProvider)(nil)

// NewMockProvider creates an empty mock provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Accounts:  make(map[string]domain.MetricsResult),
		Campaigns: make(map[string][]domain.MetricsResult),
		Ads:       make(map[string][]domain.MetricsResult),
	}
}

func (m *MockProvider) fail() error {
	m.calls++
	if m.Err != nil {
		return fmt.Errorf("%w: %v", ErrUpstream, m.Err)
	}
	if m.FailCalls > 0 && m.calls <= m.FailCalls {
		return fmt.Errorf("%w: transient mock failure", ErrUpstream)
	}
	return nil
}

// AccountMetrics returns the canned account row.
func (m *MockProvider) AccountMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) (*domain.MetricsResult, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	if result, ok := m.Accounts[accountID]; ok {
		result.WindowStart = q.Since
		result.WindowEnd = q.Until
		return &result, nil
	}
	return &domain.MetricsResult{AccountID: accountID, WindowStart: q.Since, WindowEnd: q.Until}, nil
}

// CampaignMetrics returns the canned campaign rows.
func (m *MockProvider) CampaignMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) ([]domain.MetricsResult, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	return m.Campaigns[accountID], nil
}

// AdMetrics returns the canned ad rows, unranked.
func (m *MockProvider) AdMetrics(ctx context.Context, accountID string, q domain.MetricsQuery) ([]domain.MetricsResult, error) {
	if err := m.fail(); err != nil {
		return nil, err
	}
	return m.Ads[accountID], nil
}
