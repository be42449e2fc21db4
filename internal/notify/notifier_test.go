package notify

import "testing"

func TestPublishReachesSubscriber(t *testing.T) {
	c := NewCenter()

	var got []Notification
	cancel := c.Subscribe(func(n Notification) {
		got = append(got, n)
	})
	defer cancel()

	n := c.Publish(LevelInfo, "tracking started")
	if n.ID == "" {
		t.Fatalf("expected notification id")
	}
	if len(got) != 1 || got[0].Message != "tracking started" {
		t.Fatalf("unexpected notifications: %+v", got)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	c := NewCenter()

	count := 0
	cancel := c.Subscribe(func(Notification) { count++ })

	c.Info("one")
	cancel()
	cancel() // safe to call twice
	c.Info("two")

	if count != 1 {
		t.Fatalf("expected one delivery, got %d", count)
	}
}

func TestPendingBounded(t *testing.T) {
	c := NewCenter()
	c.limit = 3

	c.Info("a")
	c.Warn("b")
	c.Error("c")
	c.Info("d")

	pending := c.Pending()
	if len(pending) != 3 {
		t.Fatalf("expected 3 pending, got %d", len(pending))
	}
	if pending[0].Message != "b" || pending[2].Message != "d" {
		t.Fatalf("unexpected pending order: %+v", pending)
	}
}

func TestNilCenterIsSafe(t *testing.T) {
	var c *Center
	c.Info("ignored")
	c.Error("ignored")
	if got := c.Pending(); got != nil {
		t.Fatalf("expected nil pending")
	}
	c.Subscribe(func(Notification) {})()
}
