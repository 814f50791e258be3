package flags

import (
	"context"
	"sync"

	"github.com/zenGate-Global/tenant-pool/domains/pool/be/service"
)

// MemoryFlags keeps slot flags in process. Fail lets tests inject per-project errors.
type MemoryFlags struct {
	mu    sync.RWMutex
	flags map[string]service.Flag
	fail  map[string]error
}

func NewMemoryFlags() *MemoryFlags {
	return &MemoryFlags{flags: make(map[string]service.Flag), fail: make(map[string]error)}
}

func (m *MemoryFlags) Read(ctx context.Context, projectID string) (service.Flag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fail[projectID]; err != nil {
		return service.Flag{}, err
	}
	flag, ok := m.flags[projectID]
	if !ok {
		return service.Flag{}, service.ErrFlagMissing
	}
	return flag, nil
}

func (m *MemoryFlags) Write(ctx context.Context, projectID string, flag service.Flag) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fail[projectID]; err != nil {
		return err
	}
	m.flags[projectID] = flag
	return nil
}

// Fail makes every call for projectID return err; nil clears it.
func (m *MemoryFlags) Fail(projectID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, projectID)
		return
	}
	m.fail[projectID] = err
}

var _ service.FlagStore = (*MemoryFlags)(nil)
