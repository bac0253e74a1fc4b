package settle

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"escrow-quiz-service/internal/domain"
	"go.uber.org/zap"
)

const (
	factoryAddr  = "0x9406cc6185a346906296840746125a0e44976454"
	deployTopic  = "0x4db17dd5e4732fb6da34a148104a592783ca119a1e7bb8829eba6cbadef0b511"
	creatorABC   = "0x00000000000000000000000000000000000abc00"
	creatorDEF   = "0x00000000000000000000000000000000000def00"
	contractAddr = "0x1111111111111111111111111111111111111111"
)

func topicFor(addr string) string {
	hex := strings.TrimPrefix(addr, "0x")
	return "0x" + strings.Repeat("0", 64-len(hex)) + hex
}

func deployLog(creator, contract string) map[string]any {
	return map[string]any{
		"address": factoryAddr,
		"topics":  []any{deployTopic, topicFor(creator), topicFor(contract)},
		"data":    "0x",
	}
}

func receiptPayload(logs ...map[string]any) map[string]any {
	rawLogs := make([]any, 0, len(logs))
	for _, l := range logs {
		rawLogs = append(rawLogs, l)
	}
	return map[string]any{
		"receipt": map[string]any{
			"transactionHash": "0xfeed",
			"logs":            rawLogs,
		},
	}
}

type fakeSource struct {
	name    string
	replies []func() (Receipt, error)
	calls   int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Receipt(ctx context.Context, handle string) (Receipt, error) {
	i := f.calls
	f.calls++
	if i >= len(f.replies) {
		i = len(f.replies) - 1
	}
	return f.replies[i]()
}

func notFound() (Receipt, error) { return Receipt{}, ErrReceiptNotFound }

func found(payload map[string]any) func() (Receipt, error) {
	return func() (Receipt, error) { return Receipt{Payload: payload}, nil }
}

func newTestResolver(sources ...ReceiptSource) *Resolver {
	r := NewResolver(sources, Config{
		MaxRetries:     3,
		RetryDelay:     time.Millisecond,
		FactoryAddress: factoryAddr,
		EventTopic:     deployTopic,
	}, zap.NewNop())
	r.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	r.clock = func() time.Time { return time.Unix(1700000000, 0) }
	return r
}

func TestFallbackSourceResolvesValidatedRecord(t *testing.T) {
	primary := &fakeSource{name: "primary", replies: []func() (Receipt, error){notFound}}
	alt := &fakeSource{name: "alt", replies: []func() (Receipt, error){
		found(receiptPayload(deployLog(creatorABC, contractAddr))),
	}}
	r := newTestResolver(primary, alt)

	record, err := r.Resolve(context.Background(), "0xhandle", Context{
		ExpectedCreator: creatorABC,
		ContractType:    "quiz-escrow",
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.Creator != creatorABC {
		t.Fatalf("expected creator %s, got %s", creatorABC, record.Creator)
	}
	if record.ContractAddress != contractAddr {
		t.Fatalf("expected contract %s, got %s", contractAddr, record.ContractAddress)
	}
	if !record.Validated {
		t.Fatalf("expected validated record")
	}
	if record.TransactionHash != "0xfeed" {
		t.Fatalf("expected tx hash from receipt, got %s", record.TransactionHash)
	}
	if primary.calls != 3 {
		t.Fatalf("expected primary retried to exhaustion before falling back, got %d calls", primary.calls)
	}
	if record.Attempts != 4 {
		t.Fatalf("expected 4 total attempts recorded, got %d", record.Attempts)
	}
}

func TestPendingReceiptRetriedOnSameSource(t *testing.T) {
	// first query lands before the transaction is mined
	source := &fakeSource{name: "primary", replies: []func() (Receipt, error){
		notFound,
		found(receiptPayload(deployLog(creatorABC, contractAddr))),
	}}
	r := newTestResolver(source)

	record, err := r.Resolve(context.Background(), "0xhandle", Context{ExpectedCreator: creatorABC})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if source.calls != 2 {
		t.Fatalf("expected retry on the same source, got %d calls", source.calls)
	}
	if record.Attempts != 2 || !record.Validated {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestTransientErrorsRetriedThenTimeout(t *testing.T) {
	flaky := func() (Receipt, error) { return Receipt{}, errors.New("rpc unavailable") }
	primary := &fakeSource{name: "primary", replies: []func() (Receipt, error){flaky}}
	alt := &fakeSource{name: "alt", replies: []func() (Receipt, error){flaky}}
	r := newTestResolver(primary, alt)

	_, err := r.Resolve(context.Background(), "0xhandle", Context{})
	if !errors.Is(err, domain.ErrResolutionTimeout) {
		t.Fatalf("expected resolution timeout, got %v", err)
	}
	if primary.calls != 3 || alt.calls != 3 {
		t.Fatalf("expected 3 retries per source, got primary=%d alt=%d", primary.calls, alt.calls)
	}
}

func TestExpectedCreatorPreferredAmongMultipleEvents(t *testing.T) {
	payload := receiptPayload(
		deployLog(creatorDEF, "0x2222222222222222222222222222222222222222"),
		deployLog(creatorABC, contractAddr),
	)
	source := &fakeSource{name: "primary", replies: []func() (Receipt, error){found(payload)}}
	r := newTestResolver(source)

	record, err := r.Resolve(context.Background(), "0xhandle", Context{ExpectedCreator: creatorABC})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.Creator != creatorABC || record.ContractAddress != contractAddr {
		t.Fatalf("expected the %s event selected, got %+v", creatorABC, record)
	}
	if !record.Validated {
		t.Fatalf("expected validated record")
	}
}

func TestFirstMatchFlaggedUnvalidatedWithoutExpectedCreator(t *testing.T) {
	payload := receiptPayload(deployLog(creatorDEF, contractAddr))
	source := &fakeSource{name: "primary", replies: []func() (Receipt, error){found(payload)}}
	r := newTestResolver(source)

	record, err := r.Resolve(context.Background(), "0xhandle", Context{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if record.Validated {
		t.Fatalf("expected unvalidated record when no expected creator supplied")
	}
	if record.Creator != creatorDEF {
		t.Fatalf("expected first match taken, got %+v", record)
	}
}

func TestNoMatchingEventDistinctFromTimeout(t *testing.T) {
	// receipt exists but carries only an unrelated log
	payload := receiptPayload(map[string]any{
		"address": "0x3333333333333333333333333333333333333333",
		"topics":  []any{deployTopic, topicFor(creatorABC), topicFor(contractAddr)},
	})
	source := &fakeSource{name: "primary", replies: []func() (Receipt, error){found(payload)}}
	r := newTestResolver(source)

	_, err := r.Resolve(context.Background(), "0xhandle", Context{ExpectedCreator: creatorABC})
	if !errors.Is(err, domain.ErrNoMatchingEvent) {
		t.Fatalf("expected no-matching-event, got %v", err)
	}
	if errors.Is(err, domain.ErrResolutionTimeout) {
		t.Fatalf("no-matching-event must not be a timeout")
	}
}

func TestResolveIsIdempotent(t *testing.T) {
	payload := receiptPayload(deployLog(creatorABC, contractAddr))
	source := &fakeSource{name: "primary", replies: []func() (Receipt, error){found(payload)}}
	r := newTestResolver(source)

	rctx := Context{ExpectedCreator: creatorABC, ContractType: "quiz-escrow"}
	first, err := r.Resolve(context.Background(), "0xhandle", rctx)
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	second, err := r.Resolve(context.Background(), "0xhandle", rctx)
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected equal records, got\n%+v\n%+v", first, second)
	}
}

func TestAlternateNestingPaths(t *testing.T) {
	payloads := []map[string]any{
		{"transactionHash": "0xfeed", "logs": []any{deployLog(creatorABC, contractAddr)}},
		{"transactionReceipt": map[string]any{"transactionHash": "0xfeed", "logs": []any{deployLog(creatorABC, contractAddr)}}},
		{"result": map[string]any{"receipt": map[string]any{"transactionHash": "0xfeed", "logs": []any{deployLog(creatorABC, contractAddr)}}}},
	}
	for i, payload := range payloads {
		source := &fakeSource{name: "primary", replies: []func() (Receipt, error){found(payload)}}
		r := newTestResolver(source)
		record, err := r.Resolve(context.Background(), "0xhandle", Context{ExpectedCreator: creatorABC})
		if err != nil {
			t.Fatalf("payload %d: %v", i, err)
		}
		if record.TransactionHash != "0xfeed" {
			t.Fatalf("payload %d: expected tx hash, got %+v", i, record)
		}
	}
}
