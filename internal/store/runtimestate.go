package store

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/statetracker/statetracker/internal/domain"
)

// RuntimeStateStore persists the confirmation worker's state, atomically
// replaced like the canonical document.
type RuntimeStateStore struct {
	path string
}

func NewRuntimeStateStore(path string) *RuntimeStateStore {
	return &RuntimeStateStore{path: path}
}

func (s *RuntimeStateStore) Load() (*domain.WorkerState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &domain.WorkerState{Version: 1}, nil
	}
	if err != nil {
		return nil, err
	}
	var st domain.WorkerState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, err
	}
	if st.Version == 0 {
		st.Version = 1
	}
	return &st, nil
}

func (s *RuntimeStateStore) Save(st *domain.WorkerState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}
