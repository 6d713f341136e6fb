package stream

import (
	"context"
	"testing"
	"time"

	"hrgate.org/internal/audit"
)

func TestFeedDeliversMatchingRecords(t *testing.T) {
	feed := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	all := feed.Subscribe(ctx, audit.Filter{})
	depts := feed.Subscribe(ctx, audit.Filter{EntityType: " department "})

	user := audit.Record{ID: "aud_1", Verb: audit.VerbUpdate, EntityType: "user", EntityID: "usr_1"}
	dept := audit.Record{ID: "aud_2", Verb: audit.VerbCreate, EntityType: "department", EntityID: "dep_1"}
	if err := feed.Append(ctx, user); err != nil {
		t.Fatalf("Append: %v", err)
	}
	feed.Publish(dept)

	for _, want := range []string{"aud_1", "aud_2"} {
		select {
		case got := <-all:
			if got.ID != want {
				t.Fatalf("expected %s, got %s", want, got.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
	select {
	case got := <-depts:
		if got.ID != "aud_2" {
			t.Fatalf("filter leaked %s", got.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for department record")
	}
}

func TestFeedDropsForSlowSubscriberAndClosesOnCancel(t *testing.T) {
	feed := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := feed.Subscribe(ctx, audit.Filter{})

	for i := 0; i < 20; i++ {
		feed.Publish(audit.Record{ID: "aud"})
	}
	if feed.Dropped() != 4 {
		t.Fatalf("expected 4 dropped deliveries, got %d", feed.Dropped())
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				if n := feed.Subscribers(); n != 0 {
					t.Fatalf("expected no subscribers, got %d", n)
				}
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after cancel")
		}
	}
}
