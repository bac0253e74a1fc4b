package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"escrow-quiz-service/internal/domain"
	"escrow-quiz-service/internal/ops"
	"escrow-quiz-service/internal/settle"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// QuizStore persists settled quizzes.
type QuizStore interface {
	SaveQuiz(ctx context.Context, quiz domain.Quiz) error
}

// DraftStore holds pending drafts with a TTL lease per entry. Value
// semantics: mutations go through SetStatus, never through shared pointers.
type DraftStore interface {
	Put(draft domain.QuizDraft)
	Get(id string) (domain.QuizDraft, bool)
	SetStatus(id string, status domain.QuizStatus) bool
	Delete(id string)
}

// ChainClient submits the escrow settlement and returns an opaque handle.
type ChainClient interface {
	SubmitSettlement(ctx context.Context, reward domain.RewardConfig, creatorAddress string) (string, error)
}

// WalletResolver maps a user identity to a wallet address. The lifecycle
// polls it a bounded number of times rather than listening for an event.
type WalletResolver interface {
	WalletAddress(ctx context.Context, userID string) (string, error)
}

// QuizGenerator turns a source reference into question content.
type QuizGenerator interface {
	Generate(ctx context.Context, sourceReference string) ([]domain.Question, error)
}

// SettlementResolver is implemented by settle.Resolver.
type SettlementResolver interface {
	Resolve(ctx context.Context, handle string, rctx settle.Context) (domain.SettlementRecord, error)
}

// LifecycleConfig tunes the quiz creation flow.
type LifecycleConfig struct {
	DraftTTL        time.Duration
	QuizTTL         time.Duration
	WalletPolls     int
	WalletPollDelay time.Duration
	ContractType    string
	// UnsettledMode persists quizzes without an on-chain escrow, visibly
	// flagged. Never the default; only honored when set explicitly.
	UnsettledMode bool
}

// Lifecycle orchestrates draft -> preview -> approve/cancel -> settle ->
// persist. Every transition after the preview runs through the scheduler
// under the {creator}:{draft} fingerprint, so duplicate triggers share one
// execution. A quiz row is written only after its settlement is verified.
type Lifecycle struct {
	sched    *ops.Scheduler
	drafts   DraftStore
	store    QuizStore
	chain    ChainClient
	wallets  WalletResolver
	gen      QuizGenerator
	resolver SettlementResolver
	cfg      LifecycleConfig
	logger   *zap.Logger
	clock    func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewLifecycle(
	sched *ops.Scheduler,
	drafts DraftStore,
	store QuizStore,
	chain ChainClient,
	wallets WalletResolver,
	gen QuizGenerator,
	resolver SettlementResolver,
	cfg LifecycleConfig,
	logger *zap.Logger,
) *Lifecycle {
	if cfg.DraftTTL <= 0 {
		cfg.DraftTTL = 15 * time.Minute
	}
	if cfg.QuizTTL <= 0 {
		cfg.QuizTTL = 24 * time.Hour
	}
	if cfg.WalletPolls <= 0 {
		cfg.WalletPolls = 5
	}
	if cfg.WalletPollDelay <= 0 {
		cfg.WalletPollDelay = 2 * time.Second
	}
	if cfg.ContractType == "" {
		cfg.ContractType = "quiz-escrow"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{
		sched:    sched,
		drafts:   drafts,
		store:    store,
		chain:    chain,
		wallets:  wallets,
		gen:      gen,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
		sleep: func(ctx context.Context, d time.Duration) error {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
}

// CreateDraft generates a preview quiz for the creator and stores it as a
// TTL-scoped draft in PreviewSent. Serialized per creator so a double-sent
// command produces one draft.
func (l *Lifecycle) CreateDraft(ctx context.Context, creatorID string, reward domain.RewardConfig, sourceRef string) (domain.QuizDraft, error) {
	fingerprint := creatorID + ":create"
	future, err := l.sched.Enqueue(fingerprint, func(ctx context.Context, op *ops.Operation) (any, error) {
		questions, err := l.gen.Generate(ctx, sourceRef)
		if err != nil {
			return nil, fmt.Errorf("generate quiz: %w", err)
		}
		now := l.clock()
		draft := domain.QuizDraft{
			ID:              uuid.NewString(),
			CreatorID:       creatorID,
			SourceReference: sourceRef,
			Reward:          reward,
			Status:          domain.StatusPreviewSent,
			Questions:       questions,
			CreatedAt:       now,
			ExpiresAt:       now.Add(l.cfg.DraftTTL),
		}
		l.drafts.Put(draft)
		l.logger.Info("draft created",
			zap.String("draftId", draft.ID),
			zap.String("creatorId", creatorID))
		return draft, nil
	})
	if err != nil {
		return domain.QuizDraft{}, err
	}
	value, err := future.Wait(ctx)
	if err != nil {
		return domain.QuizDraft{}, err
	}
	return value.(domain.QuizDraft), nil
}

// Draft returns the draft when it has not expired.
func (l *Lifecycle) Draft(id string) (domain.QuizDraft, error) {
	draft, ok := l.drafts.Get(id)
	if !ok {
		return domain.QuizDraft{}, domain.ErrDraftNotFound
	}
	return draft, nil
}

// Approve settles the draft's escrow and persists the quiz. Only the
// original creator may approve; a concurrent second approval receives the
// in-flight result, and an approval of a finalized draft is rejected.
// Persistence happens strictly after a verified settlement record exists —
// no quiz row may claim an escrow that does not exist on-chain.
func (l *Lifecycle) Approve(ctx context.Context, draftID, approverID string) (domain.Quiz, error) {
	draft, ok := l.drafts.Get(draftID)
	if !ok {
		return domain.Quiz{}, domain.ErrDraftNotFound
	}
	if draft.CreatorID != approverID {
		return domain.Quiz{}, domain.ErrUnauthorized
	}
	if draft.Status.Terminal() {
		return domain.Quiz{}, domain.ErrAlreadyFinalized
	}

	l.drafts.SetStatus(draftID, domain.StatusApproved)
	fingerprint := draft.CreatorID + ":" + draftID
	future, err := l.sched.Enqueue(fingerprint, func(ctx context.Context, op *ops.Operation) (any, error) {
		return l.settleDraft(ctx, op, draftID)
	})
	if err != nil {
		return domain.Quiz{}, err
	}
	value, err := future.Wait(ctx)
	if err != nil {
		return domain.Quiz{}, err
	}
	return value.(domain.Quiz), nil
}

func (l *Lifecycle) settleDraft(ctx context.Context, op *ops.Operation, draftID string) (domain.Quiz, error) {
	draft, ok := l.drafts.Get(draftID)
	if !ok {
		return domain.Quiz{}, domain.ErrDraftNotFound
	}
	if draft.Status.Terminal() {
		return domain.Quiz{}, domain.ErrAlreadyFinalized
	}

	if l.cfg.UnsettledMode {
		l.logger.Warn("unsettled mode: persisting quiz without escrow",
			zap.String("draftId", draftID))
		quiz := l.buildQuiz(draft, nil)
		quiz.Unsettled = true
		return l.persist(ctx, draftID, quiz)
	}

	wallet, err := l.awaitWallet(ctx, draft.CreatorID)
	if err != nil {
		return domain.Quiz{}, err
	}

	// last safe point to abandon: nothing has been submitted on-chain yet
	if op.CancelRequested() {
		return domain.Quiz{}, domain.ErrOperationCancelled
	}

	l.drafts.SetStatus(draftID, domain.StatusSettling)
	handle, err := l.chain.SubmitSettlement(ctx, draft.Reward, wallet)
	if err != nil {
		l.drafts.SetStatus(draftID, domain.StatusSettlementFailed)
		return domain.Quiz{}, fmt.Errorf("submit settlement: %w", err)
	}

	record, err := l.resolver.Resolve(ctx, handle, settle.Context{
		ExpectedCreator: wallet,
		ContractType:    l.cfg.ContractType,
	})
	if err != nil {
		l.drafts.SetStatus(draftID, domain.StatusSettlementFailed)
		if errors.Is(err, domain.ErrNoMatchingEvent) {
			// funds may exist on-chain without a confirmed local record;
			// this needs manual reconciliation, not a retry
			l.logger.Error("settlement unverifiable",
				zap.String("draftId", draftID),
				zap.String("handle", handle))
		} else {
			l.logger.Warn("settlement resolution failed",
				zap.String("draftId", draftID),
				zap.String("handle", handle),
				zap.Error(err))
		}
		return domain.Quiz{}, err
	}

	return l.persist(ctx, draftID, l.buildQuiz(draft, &record))
}

func (l *Lifecycle) persist(ctx context.Context, draftID string, quiz domain.Quiz) (domain.Quiz, error) {
	if err := l.store.SaveQuiz(ctx, quiz); err != nil {
		l.drafts.SetStatus(draftID, domain.StatusSettlementFailed)
		l.logger.Error("quiz persisted after settlement failed; escrow exists without a record",
			zap.String("quizId", quiz.ID), zap.Error(err))
		return domain.Quiz{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	l.drafts.Delete(draftID)
	l.logger.Info("quiz settled",
		zap.String("quizId", quiz.ID),
		zap.Bool("unsettled", quiz.Unsettled))
	return quiz, nil
}

func (l *Lifecycle) buildQuiz(draft domain.QuizDraft, record *domain.SettlementRecord) domain.Quiz {
	now := l.clock()
	return domain.Quiz{
		ID:              draft.ID,
		CreatorID:       draft.CreatorID,
		SourceReference: draft.SourceReference,
		Reward:          draft.Reward,
		Status:          domain.StatusSettled,
		Settlement:      record,
		Questions:       draft.Questions,
		CreatedAt:       now,
		ExpiresAt:       now.Add(l.cfg.QuizTTL),
	}
}

// awaitWallet polls the wallet resolver up to the configured count with a
// fixed delay, resolving with the address or a timeout sentinel.
func (l *Lifecycle) awaitWallet(ctx context.Context, userID string) (string, error) {
	for i := 0; i < l.cfg.WalletPolls; i++ {
		if i > 0 {
			if err := l.sleep(ctx, l.cfg.WalletPollDelay); err != nil {
				return "", err
			}
		}
		address, err := l.wallets.WalletAddress(ctx, userID)
		if err == nil && address != "" {
			return address, nil
		}
	}
	return "", domain.ErrWalletUnavailable
}

// CancelDraft moves a previewed draft to Cancelled and drops any queued
// settlement work for it. Running work keeps executing; its result is
// discarded by the scheduler.
func (l *Lifecycle) CancelDraft(_ context.Context, draftID, actorID string) error {
	draft, ok := l.drafts.Get(draftID)
	if !ok {
		return domain.ErrDraftNotFound
	}
	if draft.CreatorID != actorID {
		return domain.ErrUnauthorized
	}
	if draft.Status.Terminal() {
		return domain.ErrAlreadyFinalized
	}
	l.sched.Cancel(draft.CreatorID + ":" + draftID)
	l.drafts.SetStatus(draftID, domain.StatusCancelled)
	l.logger.Info("draft cancelled", zap.String("draftId", draftID))
	return nil
}
