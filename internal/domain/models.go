package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// QuizStatus tracks a quiz through its creation lifecycle.
type QuizStatus string

const (
	StatusDraft            QuizStatus = "draft"
	StatusPreviewSent      QuizStatus = "preview_sent"
	StatusApproved         QuizStatus = "approved"
	StatusCancelled        QuizStatus = "cancelled"
	StatusSettling         QuizStatus = "settling"
	StatusSettled          QuizStatus = "settled"
	StatusSettlementFailed QuizStatus = "settlement_failed"
)

// Terminal reports whether no further lifecycle transition is allowed.
func (s QuizStatus) Terminal() bool {
	switch s {
	case StatusCancelled, StatusSettled, StatusSettlementFailed:
		return true
	}
	return false
}

// RewardConfig describes the escrow funding for a quiz. Shares are expressed
// in basis points of the funding amount.
type RewardConfig struct {
	FundingAmount     decimal.Decimal `json:"fundingAmount"`
	CorrectShareBps   int             `json:"correctShareBps"`
	IncorrectShareBps int             `json:"incorrectShareBps"`
	TokenAddress      string          `json:"tokenAddress"`
	ChainID           int64           `json:"chainId"`
}

// QuizDraft holds a pending quiz before the creator approves settlement.
// Drafts are TTL-scoped; an unapproved draft disappears at ExpiresAt.
type QuizDraft struct {
	ID              string       `json:"id"`
	CreatorID       string       `json:"creatorId"`
	SourceReference string       `json:"sourceReference"`
	Reward          RewardConfig `json:"reward"`
	Status          QuizStatus   `json:"status"`
	Questions       []Question   `json:"questions"`
	CreatedAt       time.Time    `json:"createdAt"`
	ExpiresAt       time.Time    `json:"expiresAt"`
}

// Quiz is a reward-bearing quiz. A quiz reaches StatusSettled only after its
// escrow has been verified on-chain, except when Unsettled is set (explicit
// dev mode), in which case Settlement is nil and the flag is carried visibly.
type Quiz struct {
	ID              string            `json:"id"`
	CreatorID       string            `json:"creatorId"`
	SourceReference string            `json:"sourceReference"`
	Reward          RewardConfig      `json:"reward"`
	Status          QuizStatus        `json:"status"`
	Settlement      *SettlementRecord `json:"settlement,omitempty"`
	Unsettled       bool              `json:"unsettled,omitempty"`
	Questions       []Question        `json:"questions"`
	CreatedAt       time.Time         `json:"createdAt"`
	ExpiresAt       time.Time         `json:"expiresAt"`
}

// Option represents a possible answer for a question.
type Option struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// Question models an MCQ question with exactly one correct option.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []Option `json:"options"`
}

// SettlementRecord is the verified outcome of resolving a settlement handle.
// Immutable once constructed; produced only by the settlement resolver.
type SettlementRecord struct {
	Handle          string    `json:"handle"`
	TransactionHash string    `json:"transactionHash"`
	ContractAddress string    `json:"contractAddress"`
	Creator         string    `json:"creator"`
	ContractType    string    `json:"contractType"`
	Validated       bool      `json:"validated"`
	ResolvedAt      time.Time `json:"resolvedAt"`
	Attempts        int       `json:"attempts"`
}

// AnswerRecord is one answered question within an attempt.
type AnswerRecord struct {
	QuestionIndex int    `json:"questionIndex"`
	OptionID      string `json:"optionId"`
	Correct       bool   `json:"correct"`
}

// QuizAttempt is one user's attempt at one quiz. At most one non-abandoned
// attempt may exist per (UserID, QuizID); CurrentQuestionIndex never
// decreases while the attempt is active.
type QuizAttempt struct {
	UserID               string         `json:"userId"`
	QuizID               string         `json:"quizId"`
	WalletAddress        string         `json:"walletAddress,omitempty"`
	StartedAt            time.Time      `json:"startedAt"`
	CurrentQuestionIndex int            `json:"currentQuestionIndex"`
	Answers              []AnswerRecord `json:"answers"`
	Completed            bool           `json:"completed"`
	Score                int            `json:"score"`
}
