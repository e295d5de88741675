package eventbus

import (
	"context"
	"testing"
	"time"

	"github.com/kitt-bench/controller/internal/domain"
	"github.com/kitt-bench/controller/internal/storage/memory"
)

func TestPublishFansOutToMatchingSubscriber(t *testing.T) {
	store := memory.New()
	bus := New(store)
	sub := bus.Subscribe("qt1")
	defer sub.Close()

	other := bus.Subscribe("qt2")
	defer other.Close()

	if _, err := bus.Publish(context.Background(), domain.Event{Type: domain.EventLog, SourceID: "qt1"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case e := <-sub.C:
		if e.SourceID != "qt1" {
			t.Fatalf("expected qt1 event, got %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive event")
	}

	select {
	case e := <-other.C:
		t.Fatalf("expected no event for mismatched source, got %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWildcardSubscriberReceivesEverything(t *testing.T) {
	store := memory.New()
	bus := New(store)
	sub := bus.Subscribe("")
	defer sub.Close()

	for _, src := range []string{"a", "b", "c"} {
		if _, err := bus.Publish(context.Background(), domain.Event{Type: domain.EventLog, SourceID: src}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-sub.C:
		case <-time.After(time.Second):
			t.Fatalf("expected wildcard subscriber to receive event %d", i)
		}
	}
}

func TestReplayReturnsEventsAfterSeq(t *testing.T) {
	store := memory.New()
	bus := New(store)
	ctx := context.Background()
	first, _ := bus.Publish(ctx, domain.Event{Type: domain.EventLog, SourceID: "qt1"})
	_, _ = bus.Publish(ctx, domain.Event{Type: domain.EventLog, SourceID: "qt1"})

	events, err := bus.Replay(ctx, "qt1", first.SeqID)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event after seq %d, got %d", first.SeqID, len(events))
	}
}
