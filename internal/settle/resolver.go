package settle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"escrow-quiz-service/internal/domain"
	"go.uber.org/zap"
)

// ErrReceiptNotFound marks a handle the queried source does not know about
// yet (or a query path it does not support). Right after submission the
// receipt is usually still pending, so not-found is retried with the fixed
// delay like any transient failure before the next source is consulted.
var ErrReceiptNotFound = errors.New("receipt not found")

// Log is one log entry of the settlement transaction.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt is the raw payload a source returns for a handle. Payload shapes
// differ per source, so the transaction envelope is probed at several
// conventional nesting paths.
type Receipt struct {
	Payload map[string]any
}

// ReceiptSource is a single query path for translating an operation handle
// into a transaction receipt.
type ReceiptSource interface {
	Name() string
	Receipt(ctx context.Context, handle string) (Receipt, error)
}

// Context carries the expected parameters a resolved event is validated
// against. ExpectedCreator may be empty, in which case the first matching
// event is taken and the record is flagged unvalidated.
type Context struct {
	ExpectedCreator string
	ContractType    string
}

// Config bounds the resolver's retry behavior and identifies the factory
// deployment event to look for.
type Config struct {
	MaxRetries     int
	RetryDelay     time.Duration
	FactoryAddress string
	EventTopic     string
}

// Resolver turns an opaque settlement handle into a verified settlement
// record. Resolution is read-only against the chain: resolving the same
// handle twice yields equal records.
type Resolver struct {
	sources []ReceiptSource
	cfg     Config
	logger  *zap.Logger
	clock   func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewResolver builds a resolver over an ordered list of receipt sources.
// The first source is the primary; the rest are fallbacks.
func NewResolver(sources []ReceiptSource, cfg Config, logger *zap.Logger) *Resolver {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		sources: sources,
		cfg:     cfg,
		logger:  logger,
		clock:   time.Now,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resolve acquires a receipt for the handle and extracts the matching
// factory deployment event. Transport exhaustion across every source yields
// domain.ErrResolutionTimeout; a receipt without a matching event yields
// domain.ErrNoMatchingEvent, which is the more severe outcome because the
// transaction may have succeeded without a confirmed local record.
func (r *Resolver) Resolve(ctx context.Context, handle string, rctx Context) (domain.SettlementRecord, error) {
	receipt, attempts, err := r.acquire(ctx, handle)
	if err != nil {
		return domain.SettlementRecord{}, err
	}

	txHash, logs, err := extractTransaction(receipt)
	if err != nil {
		r.logger.Error("receipt missing transaction envelope",
			zap.String("handle", handle), zap.Error(err))
		return domain.SettlementRecord{}, domain.ErrNoMatchingEvent
	}

	event, validated, ok := r.matchEvent(logs, rctx.ExpectedCreator)
	if !ok {
		r.logger.Error("no deployment event in settlement receipt",
			zap.String("handle", handle), zap.String("txHash", txHash))
		return domain.SettlementRecord{}, domain.ErrNoMatchingEvent
	}

	return domain.SettlementRecord{
		Handle:          handle,
		TransactionHash: txHash,
		ContractAddress: event.contractAddress,
		Creator:         event.creator,
		ContractType:    rctx.ContractType,
		Validated:       validated,
		ResolvedAt:      r.clock(),
		Attempts:        attempts,
	}, nil
}

// acquire walks the source list in order, retrying each up to MaxRetries
// with a fixed delay. Not-found counts against the budget like a transient
// failure: the receipt of a just-submitted settlement is pending, not
// missing. Only an exhausted source falls through to the next one.
func (r *Resolver) acquire(ctx context.Context, handle string) (Receipt, int, error) {
	attempts := 0
	for _, source := range r.sources {
		for try := 0; try < r.cfg.MaxRetries; try++ {
			if try > 0 {
				if err := r.sleep(ctx, r.cfg.RetryDelay); err != nil {
					return Receipt{}, attempts, err
				}
			}
			attempts++
			receipt, err := source.Receipt(ctx, handle)
			if err == nil {
				return receipt, attempts, nil
			}
			if errors.Is(err, ErrReceiptNotFound) {
				r.logger.Debug("receipt not available yet",
					zap.String("source", source.Name()),
					zap.String("handle", handle),
					zap.Int("try", try+1))
				continue
			}
			r.logger.Warn("receipt query failed",
				zap.String("source", source.Name()),
				zap.String("handle", handle),
				zap.Int("try", try+1),
				zap.Error(err))
		}
	}
	return Receipt{}, attempts, domain.ErrResolutionTimeout
}

type matchedEvent struct {
	creator         string
	contractAddress string
}

// matchEvent scans logs for factory deployment events. With an expected
// creator, the event whose creator field matches wins; otherwise the first
// match is taken and reported unvalidated.
func (r *Resolver) matchEvent(logs []Log, expectedCreator string) (matchedEvent, bool, bool) {
	var first *matchedEvent
	for _, entry := range logs {
		if !strings.EqualFold(entry.Address, r.cfg.FactoryAddress) {
			continue
		}
		if len(entry.Topics) < 3 || !strings.EqualFold(entry.Topics[0], r.cfg.EventTopic) {
			continue
		}
		event := matchedEvent{
			creator:         topicAddress(entry.Topics[1]),
			contractAddress: topicAddress(entry.Topics[2]),
		}
		if expectedCreator != "" && strings.EqualFold(event.creator, expectedCreator) {
			return event, true, true
		}
		if first == nil {
			e := event
			first = &e
		}
	}
	if first == nil {
		return matchedEvent{}, false, false
	}
	// a match exists but the creator could not be confirmed
	return *first, false, true
}

// topicAddress normalizes a 32-byte indexed topic to a 20-byte hex address.
func topicAddress(topic string) string {
	t := strings.TrimPrefix(strings.ToLower(topic), "0x")
	if len(t) > 40 {
		t = t[len(t)-40:]
	}
	return "0x" + t
}

// extractTransaction probes the conventional nesting paths for the actual
// transaction receipt and returns its hash and logs.
func extractTransaction(receipt Receipt) (string, []Log, error) {
	candidates := []map[string]any{receipt.Payload}
	for _, key := range []string{"receipt", "transactionReceipt"} {
		if nested, ok := receipt.Payload[key].(map[string]any); ok {
			candidates = append(candidates, nested)
		}
	}
	if result, ok := receipt.Payload["result"].(map[string]any); ok {
		candidates = append(candidates, result)
		if nested, ok := result["receipt"].(map[string]any); ok {
			candidates = append(candidates, nested)
		}
	}

	for _, candidate := range candidates {
		hash := stringField(candidate, "transactionHash")
		if hash == "" {
			hash = stringField(candidate, "txHash")
		}
		if hash == "" {
			continue
		}
		return hash, decodeLogs(candidate["logs"]), nil
	}
	return "", nil, fmt.Errorf("no transaction receipt in payload")
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func decodeLogs(raw any) []Log {
	entries, ok := raw.([]any)
	if !ok {
		return nil
	}
	logs := make([]Log, 0, len(entries))
	for _, item := range entries {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		entry := Log{
			Address: stringField(m, "address"),
			Data:    stringField(m, "data"),
		}
		if topics, ok := m["topics"].([]any); ok {
			for _, topic := range topics {
				if s, ok := topic.(string); ok {
					entry.Topics = append(entry.Topics, s)
				}
			}
		}
		logs = append(logs, entry)
	}
	return logs
}
