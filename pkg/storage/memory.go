package storage

import "sync"

// MemStore is an in-process CheckpointStore for tests and demos
type MemStore struct {
	mu          sync.Mutex
	checkpoints map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{
		checkpoints: make(map[string][]byte),
	}
}

func (s *MemStore) Save(actorID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := make([]byte, len(data))
	copy(cp, data)
	s.checkpoints[actorID] = cp
	return nil
}

func (s *MemStore) Load(actorID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, ok := s.checkpoints[actorID]
	if !ok {
		return nil, nil
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemStore) Close() error {
	return nil
}
