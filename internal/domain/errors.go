package domain

import "errors"

var (
	// ErrQueueFull is returned when the scheduler's pending queue is at capacity.
	ErrQueueFull = errors.New("operation queue full")
	// ErrOperationCancelled marks work that was cancelled before or while running.
	ErrOperationCancelled = errors.New("operation cancelled")
	// ErrUnauthorized is returned when an actor is not the draft's creator.
	ErrUnauthorized = errors.New("actor is not the quiz creator")
	// ErrAlreadyFinalized is returned for lifecycle actions on a terminal draft.
	ErrAlreadyFinalized = errors.New("draft already finalized")
	// ErrDraftNotFound indicates the draft expired or never existed.
	ErrDraftNotFound = errors.New("quiz draft not found")
	// ErrQuizNotFound indicates the quiz content could not be loaded.
	ErrQuizNotFound = errors.New("quiz not found")
	// ErrAlreadyAttempted enforces one-shot semantics: any prior start of the
	// same (user, quiz) pair blocks a new attempt, finished or not.
	ErrAlreadyAttempted = errors.New("quiz already attempted")
	// ErrSessionNotFound is returned when no active attempt exists for the pair.
	ErrSessionNotFound = errors.New("attempt session not found")
	// ErrSessionOutOfOrder rejects an answer whose question index does not
	// match the session's current position.
	ErrSessionOutOfOrder = errors.New("answer out of order")
	// ErrOptionNotFound indicates a submitted option ID is invalid.
	ErrOptionNotFound = errors.New("option not found")
	// ErrResolutionTimeout means every receipt source exhausted its retries.
	ErrResolutionTimeout = errors.New("settlement resolution timed out")
	// ErrNoMatchingEvent means a receipt was obtained but contained no
	// deployment event from the factory. More severe than a timeout: the
	// transaction may have succeeded without a confirmed local record.
	ErrNoMatchingEvent = errors.New("no matching deployment event in receipt")
	// ErrInsufficientBalance is surfaced by the chain collaborator when the
	// creator's account cannot fund the escrow.
	ErrInsufficientBalance = errors.New("insufficient balance for settlement")
	// ErrWalletUnavailable means the wallet address did not become available
	// within the configured number of polls.
	ErrWalletUnavailable = errors.New("wallet address unavailable")
	// ErrPersistence wraps durable-store failures after settlement succeeded.
	ErrPersistence = errors.New("persistence failed")
)
