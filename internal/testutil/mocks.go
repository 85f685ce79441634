// Package testutil provides shared test utilities, mocks, and fixtures
// for testing the anonchat application.
package testutil

import (
	"context"
	"errors"
	"sync"
	"time"

	"anonchat/internal/domain"
)

// Common test errors
var (
	ErrMockNotImplemented = errors.New("mock function not implemented")
	ErrMockStore          = errors.New("mock: store down")
)

// MockAuthValidator implements domain.AuthValidator for testing.
// Tokens maps a raw token to the principal it resolves to.
type MockAuthValidator struct {
	mu sync.RWMutex

	ValidateFunc func(ctx context.Context, token string) (domain.Principal, error)

	Tokens map[string]domain.Principal
}

// NewMockAuthValidator creates a validator that knows no tokens
func NewMockAuthValidator() *MockAuthValidator {
	return &MockAuthValidator{Tokens: make(map[string]domain.Principal)}
}

// AddToken registers token for userID, expiring after ttl (0 means never).
func (m *MockAuthValidator) AddToken(token, userID string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := domain.Principal{UserID: userID}
	if ttl > 0 {
		p.ExpiresAt = time.Now().Add(ttl)
	}
	m.Tokens[token] = p
}

func (m *MockAuthValidator) Validate(ctx context.Context, token string) (domain.Principal, error) {
	if m.ValidateFunc != nil {
		return m.ValidateFunc(ctx, token)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.Tokens[token]
	if !ok {
		return domain.Principal{}, domain.ErrInvalidToken
	}
	if p.Expired(time.Now()) {
		return domain.Principal{}, domain.ErrTokenExpired
	}
	return p, nil
}

// MockEventPublisher implements domain.EventPublisher and records events
type MockEventPublisher struct {
	mu sync.Mutex

	PublishFunc func(ctx context.Context, event domain.Event) error

	Events []domain.Event
}

// NewMockEventPublisher creates a new MockEventPublisher
func NewMockEventPublisher() *MockEventPublisher {
	return &MockEventPublisher{}
}

func (m *MockEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	m.mu.Lock()
	m.Events = append(m.Events, event)
	m.mu.Unlock()

	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, event)
	}
	return nil
}

// Published returns a copy of the recorded events
func (m *MockEventPublisher) Published() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.Events))
	copy(out, m.Events)
	return out
}

// OfType returns recorded events of the given type
func (m *MockEventPublisher) OfType(eventType domain.EventType) []domain.Event {
	var out []domain.Event
	for _, e := range m.Published() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Reset clears all recorded events
func (m *MockEventPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = nil
}

// MockBlockChecker implements domain.BlockChecker for testing.
// Blocked holds directed pairs; lookups test both directions.
type MockBlockChecker struct {
	mu sync.RWMutex

	IsBlockedFunc func(ctx context.Context, userA, userB string) (bool, error)

	Blocked map[[2]string]bool
}

// NewMockBlockChecker creates a checker with no blocks
func NewMockBlockChecker() *MockBlockChecker {
	return &MockBlockChecker{Blocked: make(map[[2]string]bool)}
}

// Block records that blocker blocked blocked
func (m *MockBlockChecker) Block(blocker, blocked string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Blocked[[2]string{blocker, blocked}] = true
}

func (m *MockBlockChecker) IsBlockedEitherDirection(ctx context.Context, userA, userB string) (bool, error) {
	if m.IsBlockedFunc != nil {
		return m.IsBlockedFunc(ctx, userA, userB)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Blocked[[2]string{userA, userB}] || m.Blocked[[2]string{userB, userA}], nil
}

// FailingMessageRepository wraps a repository and fails Append on demand
type FailingMessageRepository struct {
	domain.MessageRepository

	AppendErr error
}

func (f *FailingMessageRepository) Append(ctx context.Context, params domain.AppendParams) (*domain.Message, error) {
	if f.AppendErr != nil {
		return nil, f.AppendErr
	}
	return f.MessageRepository.Append(ctx, params)
}
