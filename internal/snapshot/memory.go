package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Memory is an in-process Backend. Saved snapshots are deep-copied through
// JSON so later mutation of the source cannot reach them.
type Memory struct {
	mu   sync.Mutex
	data []byte
}

// Save stores a copy of snap.
func (m *Memory) Save(_ context.Context, snap Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("memory save: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = data
	return nil
}

// Load returns the last saved snapshot, or an empty one.
func (m *Memory) Load(_ context.Context) (Snapshot, error) {
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()

	if data == nil {
		return Snapshot{}, nil
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("memory load: %w", err)
	}
	return snap, nil
}
