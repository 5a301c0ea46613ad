package scheduler

import (
	"context"
	"sync"

	"finlink/internal/domain/connection"
	"finlink/internal/domain/refresh"
)

type MockJob struct {
	key         string
	ExecuteFunc func(ctx context.Context) error
}

func (m *MockJob) Execute(ctx context.Context) error {
	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx)
	}
	return nil
}

func (m *MockJob) Key() string         { return m.key }
func (m *MockJob) UserID() string      { return "user-1" }
func (m *MockJob) Description() string { return "mock job " + m.key }

type MockSyncer struct {
	mu                 sync.Mutex
	Synced             []int64
	SyncConnectionFunc func(ctx context.Context, ic *connection.InstitutionConnection) (*refresh.SyncResult, error)
}

func (m *MockSyncer) SyncConnection(ctx context.Context, ic *connection.InstitutionConnection) (*refresh.SyncResult, error) {
	m.mu.Lock()
	m.Synced = append(m.Synced, ic.ID)
	m.mu.Unlock()
	if m.SyncConnectionFunc != nil {
		return m.SyncConnectionFunc(ctx, ic)
	}
	return &refresh.SyncResult{Provider: ic.ProviderName, Connections: 1, Errors: []string{}}, nil
}

type MockLister struct {
	ConnectionsFunc func(ctx context.Context, providerName string) ([]*connection.InstitutionConnection, error)
}

func (m *MockLister) Connections(ctx context.Context, providerName string) ([]*connection.InstitutionConnection, error) {
	return m.ConnectionsFunc(ctx, providerName)
}
