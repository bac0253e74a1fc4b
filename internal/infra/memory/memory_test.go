package memory

import (
	"context"
	"testing"
	"time"

	"escrow-quiz-service/internal/domain"
)

func TestDraftStoreExpiresLeases(t *testing.T) {
	now := time.Unix(1700000000, 0)
	store := NewDraftStoreWithClock(func() time.Time { return now })

	store.Put(domain.QuizDraft{
		ID:        "d1",
		Status:    domain.StatusPreviewSent,
		ExpiresAt: now.Add(time.Minute),
	})
	if _, ok := store.Get("d1"); !ok {
		t.Fatalf("expected draft present before expiry")
	}

	now = now.Add(2 * time.Minute)
	if _, ok := store.Get("d1"); ok {
		t.Fatalf("expected draft evicted after expiry")
	}
	if store.SetStatus("d1", domain.StatusCancelled) {
		t.Fatalf("expected status update to fail on expired draft")
	}
}

func TestDraftStoreSetStatus(t *testing.T) {
	store := NewDraftStore()
	store.Put(domain.QuizDraft{
		ID:        "d1",
		Status:    domain.StatusPreviewSent,
		ExpiresAt: time.Now().Add(time.Hour),
	})

	if !store.SetStatus("d1", domain.StatusSettling) {
		t.Fatalf("expected status update to succeed")
	}
	draft, _ := store.Get("d1")
	if draft.Status != domain.StatusSettling {
		t.Fatalf("expected settling, got %s", draft.Status)
	}
}

func TestAttemptStoreIndexesCompletions(t *testing.T) {
	ctx := context.Background()
	store := NewAttemptStore()

	if err := store.SaveAttempt(ctx, domain.QuizAttempt{UserID: "u1", QuizID: "q1"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	attempt, err := store.FindAttempt(ctx, "u1", "q1")
	if err != nil || attempt == nil {
		t.Fatalf("expected attempt record, got %v err=%v", attempt, err)
	}
	completion, err := store.FindCompletion(ctx, "u1", "q1")
	if err != nil || completion != nil {
		t.Fatalf("expected no completion yet, got %v err=%v", completion, err)
	}

	if err := store.SaveAttempt(ctx, domain.QuizAttempt{UserID: "u1", QuizID: "q1", Completed: true, Score: 2}); err != nil {
		t.Fatalf("save completed: %v", err)
	}
	completion, err = store.FindCompletion(ctx, "u1", "q1")
	if err != nil || completion == nil || completion.Score != 2 {
		t.Fatalf("expected completion with score 2, got %v err=%v", completion, err)
	}
}

func TestQuizRepositoryCaches(t *testing.T) {
	loader := &countingLoader{
		QuizLoader: NewStaticQuizLoader(map[string]domain.Quiz{
			"quiz-1": {ID: "quiz-1", Questions: []domain.Question{{ID: "q1"}}},
		}),
	}
	repo := NewQuizRepository(loader, time.Minute)

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected loader once, got %d", loader.calls)
	}

	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 2: %v", err)
	}
	if loader.calls != 1 {
		t.Fatalf("expected cache hit, loader calls %d", loader.calls)
	}

	repo.Invalidate("quiz-1")
	if _, err := repo.GetQuiz(context.Background(), "quiz-1"); err != nil {
		t.Fatalf("get quiz 3: %v", err)
	}
	if loader.calls != 2 {
		t.Fatalf("expected reload after invalidate, got %d", loader.calls)
	}
}

type countingLoader struct {
	QuizLoader
	calls int
}

func (l *countingLoader) LoadQuiz(ctx context.Context, quizID string) (domain.Quiz, error) {
	l.calls++
	return l.QuizLoader.LoadQuiz(ctx, quizID)
}
