// Package session tracks per-client MCP sessions and their activity.
package session

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/zane-analytics/meta-ads-mcp/internal/domain"
)

var (
	// ErrUnknownToken is returned when a token has never been established.
	ErrUnknownToken = errors.New("unknown session token")
	// ErrUnauthenticated is returned when a token's session is closed or
	// idle-expired.
	ErrUnauthenticated = errors.New("session is not active")
	// ErrTokenReuse is returned when a token that previously belonged to one
	// user is established for another.
	ErrTokenReuse = errors.New("session token already bound to another user")
)

// Registry is the process-wide table of live sessions. All mutation happens
// under a single mutex; token lookup plus timestamp refresh is one atomic
// unit. The clock is injected so tests can drive time.
type Registry struct {
	mu          sync.Mutex
	sessions    map[string]*domain.Session
	now         func() time.Time
	idleTimeout time.Duration

	stopOnce sync.Once
	done     chan struct{}
}

// NewRegistry creates a registry with the given idle threshold. A nil clock
// defaults to time.Now.
func NewRegistry(idleTimeout time.Duration, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{
		sessions:    make(map[string]*domain.Session),
		now:         now,
		idleTimeout: idleTimeout,
		done:        make(chan struct{}),
	}
}

// Establish promotes a freshly verified token into a live session. It is the
// only path that creates sessions; Resolve never auto-creates. A token that
// was ever bound to a different user is rejected.
func (r *Registry) Establish(token, userID string, clientInfo json.RawMessage) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sessions[token]; ok {
		if existing.UserID != userID {
			return domain.Session{}, ErrTokenReuse
		}
		if !existing.IsActive {
			return domain.Session{}, ErrUnauthenticated
		}
		existing.LastActivityAt = r.now()
		return *existing, nil
	}

	now := r.now()
	sess := &domain.Session{
		Token:          token,
		UserID:         userID,
		CreatedAt:      now,
		LastActivityAt: now,
		ClientInfo:     clientInfo,
		IsActive:       true,
	}
	r.sessions[token] = sess
	return *sess, nil
}

// Resolve returns the live session for a token. Unknown tokens fail with
// ErrUnknownToken; closed or idle-expired tokens fail with
// ErrUnauthenticated.
func (r *Registry) Resolve(token string) (domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return domain.Session{}, ErrUnknownToken
	}
	if !sess.IsActive || r.expired(sess) {
		sess.IsActive = false
		return domain.Session{}, ErrUnauthenticated
	}
	return *sess, nil
}

// Touch refreshes the activity timestamp of a live session. Touching a
// closed or unknown token is a no-op.
func (r *Registry) Touch(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[token]; ok && sess.IsActive && !r.expired(sess) {
		sess.LastActivityAt = r.now()
	}
}

// Close marks a session inactive. Idempotent; the token stays known so it
// cannot be re-established.
func (r *Registry) Close(token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[token]; ok {
		sess.IsActive = false
	}
}

// Sweep deactivates sessions idle past the threshold and prunes entries that
// have been dead for two full idle periods. Returns the number deactivated.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	closed := 0
	now := r.now()
	for token, sess := range r.sessions {
		if sess.IsActive && r.expired(sess) {
			sess.IsActive = false
			closed++
		}
		if !sess.IsActive && now.Sub(sess.LastActivityAt) > 2*r.idleTimeout {
			delete(r.sessions, token)
		}
	}
	return closed
}

// StartSweeper runs Sweep on its own ticker until Stop is called. The timer
// is independent of dispatch load.
func (r *Registry) StartSweeper(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				if n := r.Sweep(); n > 0 {
					log.Printf("session sweep closed %d idle sessions", n)
				}
			}
		}
	}()
}

// Stop terminates the sweeper goroutine.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// ActiveCount returns the number of live sessions.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, sess := range r.sessions {
		if sess.IsActive && !r.expired(sess) {
			n++
		}
	}
	return n
}

func (r *Registry) expired(sess *domain.Session) bool {
	return r.idleTimeout > 0 && r.now().Sub(sess.LastActivityAt) > r.idleTimeout
}
