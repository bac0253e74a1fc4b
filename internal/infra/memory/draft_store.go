package memory

import (
	"sync"
	"time"

	"escrow-quiz-service/internal/domain"
)

// DraftStore keeps pending drafts in memory, each with its own TTL lease.
// Expired entries are dropped lazily on access and on every Put.
type DraftStore struct {
	clock func() time.Time

	mu     sync.Mutex
	drafts map[string]domain.QuizDraft
}

func NewDraftStore() *DraftStore {
	return &DraftStore{
		clock:  time.Now,
		drafts: make(map[string]domain.QuizDraft),
	}
}

// NewDraftStoreWithClock is test-only for deterministic expiry.
func NewDraftStoreWithClock(now func() time.Time) *DraftStore {
	store := NewDraftStore()
	store.clock = now
	return store
}

func (s *DraftStore) Put(draft domain.QuizDraft) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked()
	s.drafts[draft.ID] = draft
}

func (s *DraftStore) Get(id string) (domain.QuizDraft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[id]
	if !ok {
		return domain.QuizDraft{}, false
	}
	if !draft.ExpiresAt.After(s.clock()) {
		delete(s.drafts, id)
		return domain.QuizDraft{}, false
	}
	return draft, true
}

func (s *DraftStore) SetStatus(id string, status domain.QuizStatus) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	draft, ok := s.drafts[id]
	if !ok || !draft.ExpiresAt.After(s.clock()) {
		return false
	}
	draft.Status = status
	s.drafts[id] = draft
	return true
}

func (s *DraftStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, id)
}

func (s *DraftStore) sweepLocked() {
	now := s.clock()
	for id, draft := range s.drafts {
		if !draft.ExpiresAt.After(now) {
			delete(s.drafts, id)
		}
	}
}
