// Package store holds user records and connected ad account credentials.
package store

import (
	"context"

	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
)

// Store is the credential/account store consulted by the dispatcher. Reads
// return (nil, nil) when the record does not exist.
type Store interface {
	GetUser(ctx context.Context, userID string) (*domain.UserIdentity, error)
	ListAdAccounts(ctx context.Context, userID string) ([]domain.AdAccount, error)

	CreateUser(ctx context.Context, user *domain.UserIdentity) error
	CreateAdAccount(ctx context.Context, account *domain.AdAccount) error

	Close() error
}
