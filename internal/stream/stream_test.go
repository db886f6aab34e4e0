package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishAssignsMonotonicSeq(t *testing.T) {
	s := New()
	f1 := s.Publish(Fact{Kind: KindBidPlaced, AuctionID: 1, Bidder: "a", Amount: 100})
	f2 := s.Publish(Fact{Kind: KindBidPlaced, AuctionID: 1, Bidder: "b", Amount: 110})

	if f1.Seq != 1 || f2.Seq != 2 {
		t.Fatalf("unexpected sequence numbers: %d, %d", f1.Seq, f2.Seq)
	}
	if f1.ID == "" || f1.At.IsZero() {
		t.Fatalf("fact not stamped: %+v", f1)
	}
}

func TestSubscriberReceivesFacts(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	s.Publish(Fact{Kind: KindAuctionCreated, AuctionID: 3})

	select {
	case f := <-ch:
		if f.Kind != KindAuctionCreated || f.AuctionID != 3 {
			t.Fatalf("unexpected fact: %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for fact")
	}

	cancel()
	// Channel closes once the context ends.
	for range ch {
	}
}

func TestListSinceReplaysJournal(t *testing.T) {
	s := New()
	for i := 0; i < 5; i++ {
		s.Publish(Fact{Kind: KindBidPlaced, AuctionID: 1, Amount: int64(100 + i)})
	}

	facts := s.ListSince(2, 10)
	if len(facts) != 3 {
		t.Fatalf("expected 3 facts after seq 2, got %d", len(facts))
	}
	if facts[0].Seq != 3 || facts[2].Seq != 5 {
		t.Fatalf("replay out of order: %d..%d", facts[0].Seq, facts[len(facts)-1].Seq)
	}
}

func TestListSinceClampsLargeLimit(t *testing.T) {
	s := New()
	for i := 0; i < 150; i++ {
		s.Publish(Fact{Kind: KindBidPlaced, AuctionID: 1, Amount: int64(i)})
	}

	// A limit beyond the cap is clamped to the cap, not the default.
	facts := s.ListSince(0, 5000)
	if len(facts) != 150 {
		t.Fatalf("expected all 150 facts, got %d", len(facts))
	}
}

func TestPublishSurvivesSubscriberCancellation(t *testing.T) {
	s := New()
	stop := make(chan struct{})

	// Subscribers churn: each registers, then cancels, closing its channel.
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
			}
			ctx, cancel := context.WithCancel(context.Background())
			_ = s.Subscribe(ctx)
			cancel()
		}
	}()

	done := make(chan struct{})
	go func() {
		defer func() {
			if r := recover(); r != nil {
				t.Errorf("Publish panicked: %v", r)
			}
			close(done)
		}()
		for i := 0; i < 5000; i++ {
			s.Publish(Fact{Kind: KindBidPlaced, AuctionID: 1, Amount: int64(i)})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publisher did not finish")
	}
	close(stop)
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_ = s.Subscribe(ctx) // never drained

	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			s.Publish(Fact{Kind: KindBidPlaced, AuctionID: 1, Amount: int64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}
