package stats

import (
	"sync"
	"testing"
	"time"
)

func TestCollectorCountsAcrossShards(t *testing.T) {
	c := New()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Published("project/created")
				c.Delivered(1, 3*time.Millisecond)
				c.Failed()
				c.Retried()
			}
		}()
	}
	wg.Wait()
	c.DeadLettered()
	c.SetActiveSubscriptions(7)

	snap := c.Snapshot()
	if snap.PublishedTotal != 800 {
		t.Errorf("published = %d, want 800", snap.PublishedTotal)
	}
	if snap.PerTopic["project/created"] != 800 {
		t.Errorf("per-topic = %d, want 800", snap.PerTopic["project/created"])
	}
	if snap.Delivered != 800 || snap.Failed != 800 || snap.Retries != 800 {
		t.Errorf("delivered/failed/retries = %d/%d/%d, want 800 each", snap.Delivered, snap.Failed, snap.Retries)
	}
	if snap.DeadLetters != 1 {
		t.Errorf("dead letters = %d, want 1", snap.DeadLetters)
	}
	if snap.ActiveSubscriptions != 7 {
		t.Errorf("active subscriptions = %d, want 7", snap.ActiveSubscriptions)
	}
}

func TestLatencyPercentiles(t *testing.T) {
	c := New()
	// 90 fast deliveries, 10 slow ones.
	for i := 0; i < 90; i++ {
		c.Delivered(1, 2*time.Millisecond)
	}
	for i := 0; i < 10; i++ {
		c.Delivered(1, 400*time.Millisecond)
	}

	snap := c.Snapshot()
	if snap.LatencyP50MS > 5 {
		t.Errorf("p50 = %dms, want a low bucket", snap.LatencyP50MS)
	}
	if snap.LatencyP99MS < 250 {
		t.Errorf("p99 = %dms, want a slow bucket", snap.LatencyP99MS)
	}
}

func TestTopTopics(t *testing.T) {
	c := New()
	for i := 0; i < 5; i++ {
		c.Published("a/b")
	}
	for i := 0; i < 3; i++ {
		c.Published("c/d")
	}
	c.Published("e/f")

	top := c.Snapshot().TopTopics(2)
	if len(top) != 2 || top[0] != "a/b" || top[1] != "c/d" {
		t.Errorf("top topics = %v", top)
	}
}

func TestDeliveredCountsBatch(t *testing.T) {
	c := New()
	c.Delivered(5, 20*time.Millisecond)
	c.Delivered(1, 60*time.Second) // beyond the last bucket bound

	snap := c.Snapshot()
	if snap.Delivered != 6 {
		t.Errorf("delivered = %d, want 6", snap.Delivered)
	}
	// Two delivery calls in the histogram, one in the overflow bucket.
	if snap.LatencyP99MS <= 10000 {
		t.Errorf("p99 = %dms, want overflow bucket", snap.LatencyP99MS)
	}
}
