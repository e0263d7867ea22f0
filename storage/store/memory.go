package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[string]*AnchorTask
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tasks: make(map[string]*AnchorTask), now: time.Now}
}

func (s *MemoryStore) InsertAnchorTaskBatch(_ context.Context, tasks []*AnchorTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if _, exists := s.tasks[t.RequestID]; exists {
			continue
		}
		cp := *t
		cp.Status = StatusReceived
		cp.RetryCount = 0
		cp.UpdatedAt = s.now()
		s.tasks[t.RequestID] = &cp
	}
	return nil
}

func (s *MemoryStore) GetAndMarkBatchAsProcessing(_ context.Context, requestIDs []string, maxRetries int) (map[string]*AnchorTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*AnchorTask, len(requestIDs))
	for _, id := range requestIDs {
		t, ok := s.tasks[id]
		if !ok || t.Status != StatusReceived {
			continue
		}
		if t.RetryCount >= maxRetries {
			t.Status = StatusFailed
			t.ErrorMessage = "max retries exceeded"
		} else {
			t.Status = StatusProcessing
			t.RetryCount++
		}
		t.UpdatedAt = s.now()
		cp := *t
		out[id] = &cp
	}
	return out, nil
}

func (s *MemoryStore) MarkBatchAsCompleted(_ context.Context, records []CompletionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		t, ok := s.tasks[r.RequestID]
		if !ok || t.Status == StatusCompleted {
			continue
		}
		t.Status = StatusCompleted
		t.TxRef = r.TxRef
		t.BlockHeight = r.BlockHeight
		t.ErrorMessage = ""
		t.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) MarkBatchAsFailed(_ context.Context, records []FailureRecord) error {
	s.settle(StatusFailed, records)
	return nil
}

func (s *MemoryStore) MarkBatchAsAmbiguous(_ context.Context, records []FailureRecord) error {
	s.settle(StatusAmbiguous, records)
	return nil
}

func (s *MemoryStore) settle(status TaskStatus, records []FailureRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		t, ok := s.tasks[r.RequestID]
		if !ok || t.Status != StatusProcessing {
			continue
		}
		t.Status = status
		t.ErrorMessage = r.ErrorMessage
		t.UpdatedAt = s.now()
	}
}

func (s *MemoryStore) MarkBatchForRetry(_ context.Context, requestIDs []string, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range requestIDs {
		t, ok := s.tasks[id]
		if !ok || (t.Status != StatusProcessing && t.Status != StatusAmbiguous) {
			continue
		}
		t.Status = StatusReceived
		t.ErrorMessage = errorMessage
		t.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) ReleaseBatch(_ context.Context, requestIDs []string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range requestIDs {
		t, ok := s.tasks[id]
		if !ok || t.Status != StatusProcessing {
			continue
		}
		t.Status = StatusReceived
		if t.RetryCount > 0 {
			t.RetryCount--
		}
		t.ErrorMessage = reason
		t.UpdatedAt = s.now()
	}
	return nil
}

func (s *MemoryStore) BlockedByPredecessor(_ context.Context, requestIDs []string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	listed := make(map[string]struct{}, len(requestIDs))
	for _, id := range requestIDs {
		listed[id] = struct{}{}
	}

	blocked := make(map[string]struct{})
	for _, id := range requestIDs {
		t, ok := s.tasks[id]
		if !ok {
			continue
		}
		for _, p := range s.tasks {
			if p.BatchHash != t.BatchHash || p.RequestID == t.RequestID || !p.Status.unsettled() || !p.precedes(t) {
				continue
			}
			if _, inBatch := listed[p.RequestID]; inBatch && p.Status == StatusReceived {
				continue
			}
			blocked[id] = struct{}{}
			break
		}
	}
	return blocked, nil
}

func (s *MemoryStore) ListUnsettled(_ context.Context, staleBefore time.Time, limit int) ([]*AnchorTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AnchorTask
	for _, t := range s.tasks {
		if t.Status == StatusAmbiguous || (t.Status == StatusProcessing && t.UpdatedAt.Before(staleBefore)) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) CompletedTxRefs(_ context.Context, batchHash string) (map[string]struct{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	refs := make(map[string]struct{})
	for _, t := range s.tasks {
		if t.BatchHash == batchHash && t.Status == StatusCompleted && t.TxRef != "" {
			refs[t.TxRef] = struct{}{}
		}
	}
	return refs, nil
}

func (s *MemoryStore) GetTask(_ context.Context, requestID string) (*AnchorTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[requestID]
	if !ok {
		return nil, ErrTaskNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Close() {}
