package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "DeafFirst-Hub/internal/errors"
)

func sampleEntry(platform, status string, at time.Time) Entry {
	return Entry{
		EventID:    "evt-" + platform,
		Platform:   platform,
		EventType:  "message",
		Status:     status,
		Code:       200,
		OccurredAt: at,
	}
}

func TestMemorySinkRingAndFilters(t *testing.T) {
	sink := NewMemorySink(3)
	base := time.Unix(1_700_000_000, 0).UTC()
	ctx := context.Background()
	_ = sink.Append(ctx, sampleEntry("stripe", StatusSuccess, base))
	_ = sink.Append(ctx, sampleEntry("twilio", StatusError, base.Add(time.Minute)))
	_ = sink.Append(ctx, sampleEntry("stripe", StatusSuccess, base.Add(2*time.Minute)))
	_ = sink.Append(ctx, sampleEntry("telegram", StatusSuccess, base.Add(3*time.Minute)))

	if sink.Len() != 3 {
		t.Fatalf("ring should hold 3 entries, got %d", sink.Len())
	}
	all, _ := sink.List(ctx)
	if len(all) != 3 || all[0].Platform != "telegram" || all[2].Platform != "twilio" {
		t.Fatalf("unexpected order %+v", all)
	}
	for _, e := range all {
		if e.ID == "" {
			t.Fatalf("entries should receive an id")
		}
	}

	stripe, _ := sink.List(ctx, WithPlatform("STRIPE"))
	if len(stripe) != 1 {
		t.Fatalf("oldest stripe entry should have been evicted, got %d", len(stripe))
	}
	failed, _ := sink.List(ctx, WithStatus(StatusError))
	if len(failed) != 1 || failed[0].Platform != "twilio" {
		t.Fatalf("unexpected status filter result %+v", failed)
	}
	recent, _ := sink.List(ctx, WithSince(base.Add(2*time.Minute)), WithLimit(1))
	if len(recent) != 1 || recent[0].Platform != "telegram" {
		t.Fatalf("unexpected since/limit result %+v", recent)
	}

	stats, _ := sink.Stats(ctx, time.Time{})
	if stats.Total != 3 || stats.Failed != 1 || stats.Platforms["stripe"] != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestSQLSinkWithSQLite(t *testing.T) {
	ctx := context.Background()
	sink, err := OpenSQL(ctx, SQLConfig{Driver: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer sink.Close()

	base := time.UnixMilli(1_700_000_000_123).UTC()
	first := sampleEntry("stripe", StatusSuccess, base)
	first.ID = "entry-1"
	first.UserID = "cus_1"
	if err := sink.Append(ctx, first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := sink.Append(ctx, first); err != nil {
		t.Fatalf("re-appending the same id should be idempotent, got %v", err)
	}
	dup := sampleEntry("stripe", StatusSuccess, base.Add(time.Second))
	dup.Duplicate = true
	if err := sink.Append(ctx, dup); err != nil {
		t.Fatalf("append duplicate delivery: %v", err)
	}
	failed := sampleEntry("discord", StatusError, base.Add(2*time.Second))
	failed.Code = 401
	failed.ErrorCode = string(xerrors.CodeVerificationFailed)
	if err := sink.Append(ctx, failed); err != nil {
		t.Fatalf("append failure: %v", err)
	}

	entries, err := sink.List(ctx, WithPlatform("stripe"))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 || !entries[0].Duplicate || entries[1].ID != "entry-1" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if !entries[1].OccurredAt.Equal(base) || entries[1].UserID != "cus_1" {
		t.Fatalf("round trip lost data: %+v", entries[1])
	}

	errorsOnly, _ := sink.List(ctx, WithStatus(StatusError))
	if len(errorsOnly) != 1 || errorsOnly[0].ErrorCode != "VERIFICATION_FAILED" || errorsOnly[0].Code != 401 {
		t.Fatalf("unexpected error entries %+v", errorsOnly)
	}

	stats, err := sink.Stats(ctx, time.Time{})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Succeeded != 2 || stats.Failed != 1 || stats.Duplicates != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.OldestOccurredAt != base.Unix() {
		t.Fatalf("unexpected oldest timestamp %d", stats.OldestOccurredAt)
	}

	if err := migrate(ctx, sink.db, "sqlite"); err != nil {
		t.Fatalf("migrations should be re-runnable: %v", err)
	}
}

func TestOpenSQLRejectsUnknownDriver(t *testing.T) {
	_, err := OpenSQL(context.Background(), SQLConfig{Driver: "postgres", DSN: "x"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	_, err = OpenSQL(context.Background(), SQLConfig{Driver: "sqlite"})
	if xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for empty dsn, got %v", err)
	}
}

func TestMigrationFileParsing(t *testing.T) {
	stmts := statements("CREATE TABLE a (id INT);\n\n CREATE INDEX i ON a (id);\n")
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if v := versionOf("001_webhook_events.sql"); v != "001" {
		t.Fatalf("unexpected version %q", v)
	}
	if v := versionOf("002.sql"); v != "002" {
		t.Fatalf("unexpected version %q", v)
	}
}

type failingSink struct {
	calls atomic.Int32
}

func (f *failingSink) Name() string { return "broken" }
func (f *failingSink) Append(context.Context, Entry) error {
	f.calls.Add(1)
	return errors.New("disk full")
}
func (f *failingSink) Close() error { return nil }

func TestFanoutContinuesPastFailures(t *testing.T) {
	broken := &failingSink{}
	memory := NewMemorySink(10)
	var observed []string
	fan := NewFanout([]Sink{broken, nil, memory}, WithFailureObserver(func(sink string) {
		observed = append(observed, sink)
	}))

	err := fan.Append(context.Background(), Entry{Platform: "mux"})
	if err == nil {
		t.Fatalf("fanout should report the failing sink")
	}
	if memory.Len() != 1 || broken.calls.Load() != 1 {
		t.Fatalf("every sink should receive the entry")
	}
	if len(observed) != 1 || observed[0] != "broken" {
		t.Fatalf("unexpected observer calls %v", observed)
	}
	reader, ok := fan.Reader()
	if !ok || reader != memory {
		t.Fatalf("memory sink should serve reads")
	}
}

func TestAppendDetachedIgnoresCancellation(t *testing.T) {
	memory := NewMemorySink(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := AppendDetached(ctx, memory, Entry{Platform: "test"}, time.Second); err != nil {
		t.Fatalf("append: %v", err)
	}
	if memory.Len() != 1 {
		t.Fatalf("entry should be written despite the cancelled request")
	}
}

type fakePublisher struct {
	key string
	msg amqp.Publishing
	err error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp.Publishing) error {
	p.key = key
	p.msg = msg
	return p.err
}

func TestAMQPSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{}
	sink := newAMQPSink(pub, "events", true)
	if err := sink.Append(context.Background(), Entry{Platform: "stripe", EventID: "evt_1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if pub.key != "events" || pub.msg.ContentType != "application/json" || pub.msg.DeliveryMode != amqp.Persistent {
		t.Fatalf("unexpected publishing %+v", pub.msg)
	}
	var decoded Entry
	if err := json.Unmarshal(pub.msg.Body, &decoded); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if decoded.EventID != "evt_1" || decoded.ID == "" || pub.msg.MessageId != decoded.ID {
		t.Fatalf("unexpected body %+v", decoded)
	}

	pub.err = errors.New("channel closed")
	if err := sink.Append(context.Background(), Entry{}); xerrors.CodeOf(err) != xerrors.CodeQueueFailure {
		t.Fatalf("expected queue failure, got %v", err)
	}
}
