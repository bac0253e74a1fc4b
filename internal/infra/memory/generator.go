package memory

import (
	"context"
	"fmt"

	"escrow-quiz-service/internal/domain"
	"github.com/google/uuid"
)

// StaticGenerator produces placeholder questions for a source reference.
// It stands in for the external content-to-quiz service in tests and when
// no generator endpoint is configured.
type StaticGenerator struct {
	QuestionCount int
}

func NewStaticGenerator(count int) *StaticGenerator {
	if count <= 0 {
		count = 3
	}
	return &StaticGenerator{QuestionCount: count}
}

func (g *StaticGenerator) Generate(_ context.Context, sourceRef string) ([]domain.Question, error) {
	questions := make([]domain.Question, 0, g.QuestionCount)
	for i := 0; i < g.QuestionCount; i++ {
		questions = append(questions, domain.Question{
			ID:     uuid.NewString(),
			Prompt: fmt.Sprintf("Question %d about %s", i+1, sourceRef),
			Options: []domain.Option{
				{ID: "a", Text: "Option A", Correct: i%2 == 0},
				{ID: "b", Text: "Option B", Correct: i%2 != 0},
				{ID: "c", Text: "Option C"},
			},
		})
	}
	return questions, nil
}
