package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/zane-analytics/meta-ads-mcp/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT UNIQUE,
			name TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS ad_accounts (
			account_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			account_name TEXT,
			access_token TEXT NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			last_synced_at DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (account_id, user_id),
			FOREIGN KEY (user_id) REFERENCES users(user_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ad_accounts_user ON ad_accounts(user_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateUser inserts a user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *domain.UserIdentity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, email, name) VALUES (?, ?, ?)`,
		user.UserID, user.Email, user.Name)
	return err
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.UserIdentity, error) {
	var user domain.UserIdentity
	var email, name sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, email, name FROM users WHERE user_id = ?`,
		userID).Scan(&user.UserID, &email, &name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if email.Valid {
		user.Email = email.String
	}
	if name.Valid {
		user.Name = name.String
	}
	return &user, nil
}

// CreateAdAccount inserts a connected ad account.
func (s *SQLiteStore) CreateAdAccount(ctx context.Context, account *domain.AdAccount) error {
	var lastSynced interface{}
	if account.LastSyncedAt != nil {
		lastSynced = *account.LastSyncedAt
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ad_accounts (account_id, user_id, account_name, access_token, is_active, last_synced_at) VALUES (?, ?, ?, ?, ?, ?)`,
		account.AccountID, account.UserID, account.AccountName, account.AccessToken, account.IsActive, lastSynced)
	return err
}

// ListAdAccounts retrieves all ad accounts connected by a user.
func (s *SQLiteStore) ListAdAccounts(ctx context.Context, userID string) ([]domain.AdAccount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id, user_id, account_name, access_token, is_active, last_synced_at, created_at FROM ad_accounts WHERE user_id = ? ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.AdAccount
	for rows.Next() {
		var acc domain.AdAccount
		var name sql.NullString
		var lastSynced sql.NullTime
		if err := rows.Scan(&acc.AccountID, &acc.UserID, &name, &acc.AccessToken, &acc.IsActive, &lastSynced, &acc.CreatedAt); err != nil {
			return nil, err
		}
		if name.Valid {
			acc.AccountName = name.String
		}
		if lastSynced.Valid {
			acc.LastSyncedAt = &lastSynced.Time
		}
		accounts = append(accounts, acc)
	}
	return accounts, rows.Err()
}
