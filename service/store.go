package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/contractrisk/model"
	"github.com/AnTengye/contractrisk/pkg/logger"
)

// MemoryStore is an in-memory Repository. Records are copied in and out so
// callers never share state with the store.
type MemoryStore struct {
	contracts    map[string]*model.ContractRecord
	analyses     map[string]*model.AnalysisRecord // by contract id
	mu           sync.RWMutex
	maxContracts int // Maximum contracts to keep, 0 = unlimited
	now          func() time.Time
}

func NewMemoryStore(maxContracts int) *MemoryStore {
	if maxContracts < 0 {
		maxContracts = 0
	}
	return &MemoryStore{
		contracts:    make(map[string]*model.ContractRecord),
		analyses:     make(map[string]*model.AnalysisRecord),
		maxContracts: maxContracts,
		now:          time.Now,
	}
}

func (s *MemoryStore) CreateContract(ctx context.Context, rec *model.ContractRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contracts[rec.ID]; exists {
		return fmt.Errorf("contract %s already exists", rec.ID)
	}
	cp := *rec
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	s.contracts[cp.ID] = &cp

	s.cleanupIfNeeded(ctx)
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.ContractRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListContracts(_ context.Context, userID, status string) ([]*model.ContractRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*model.ContractRecord
	for _, c := range s.contracts {
		if c.UserID != userID || (status != "" && c.Status != status) {
			continue
		}
		cp := *c
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) CountContracts(ctx context.Context, userID, status string) (int, error) {
	list, err := s.ListContracts(ctx, userID, status)
	return len(list), err
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id, status, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return ErrRecordNotFound
	}
	if !model.CanTransition(c.Status, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.Status, status)
	}
	c.Status = status
	c.ErrorMsg = errMsg
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) RestartForRerun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return ErrRecordNotFound
	}
	if !model.CanRerun(c.Status) {
		return fmt.Errorf("%w: cannot rerun from %s", ErrInvalidTransition, c.Status)
	}
	c.Status = model.StatusProcessing
	c.ErrorMsg = ""
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SaveAnalysis(_ context.Context, rec *model.AnalysisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[rec.ContractID]
	if !ok {
		return ErrRecordNotFound
	}
	cp := *rec
	cp.Payload = append([]byte(nil), rec.Payload...)
	if prev, ok := s.analyses[rec.ContractID]; ok && cp.CreatedAt.IsZero() {
		cp.CreatedAt = prev.CreatedAt
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = s.now()
	}
	s.analyses[rec.ContractID] = &cp
	c.AnalysisID = cp.ID
	c.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) GetAnalysis(_ context.Context, contractID string) (*model.AnalysisRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.analyses[contractID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *a
	cp.Payload = append([]byte(nil), a.Payload...)
	return &cp, nil
}

func (s *MemoryStore) DeleteContract(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.contracts[id]; !ok {
		return ErrRecordNotFound
	}
	delete(s.contracts, id)
	delete(s.analyses, id)
	return nil
}

// Count returns the number of contracts in the store
func (s *MemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.contracts)
}

// cleanupIfNeeded removes the oldest finished contracts once the store
// exceeds maxContracts. Records still processing are never evicted.
// Must be called with lock held
func (s *MemoryStore) cleanupIfNeeded(ctx context.Context) {
	if s.maxContracts <= 0 || len(s.contracts) <= s.maxContracts {
		return
	}

	candidates := make([]*model.ContractRecord, 0, len(s.contracts))
	for _, c := range s.contracts {
		if model.IsTerminal(c.Status) {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	removeCount := len(s.contracts) - s.maxContracts
	for i := 0; i < removeCount && i < len(candidates); i++ {
		logger.Info(ctx, "auto-cleaning old contract",
			"contract_id", candidates[i].ID,
			"created_at", candidates[i].CreatedAt,
		)
		delete(s.contracts, candidates[i].ID)
		delete(s.analyses, candidates[i].ID)
	}
}
