package reconcile

import (
	"context"
	"sync"
)

// MockNotifier records broken-connection notifications
type MockNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (m *MockNotifier) NotifyConnectionBroken(ctx context.Context, userID, institutionName, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, userID+"|"+institutionName+"|"+reason)
	return nil
}
