// Package stats aggregates broker counters. Writers are many (publish
// path, delivery workers) so counters are sharded and only folded
// together when a snapshot is read.
package stats

import (
	"math"
	"math/rand/v2"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

const numShards = 16

// Latency histogram bucket upper bounds, in milliseconds.
var latencyBuckets = [...]int64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

type shard struct {
	published   atomic.Int64
	delivered   atomic.Int64
	failed      atomic.Int64
	retries     atomic.Int64
	deadLetters atomic.Int64

	latency [len(latencyBuckets) + 1]atomic.Int64

	mu     sync.Mutex
	topics map[string]int64

	_ [32]byte // keep shards off each other's cache lines
}

// Collector holds the broker-wide rolling counters. All increment paths
// are non-blocking except the per-topic map, which shards by topic hash
// so two workers only contend when counting the same topic.
type Collector struct {
	shards [numShards]*shard

	// activeSubscriptions is a gauge maintained by the subscription
	// registry, not derived from the shards.
	activeSubscriptions atomic.Int64
}

// New creates a Collector.
func New() *Collector {
	c := &Collector{}
	for i := range c.shards {
		c.shards[i] = &shard{topics: make(map[string]int64)}
	}
	return c
}

func (c *Collector) shard() *shard {
	return c.shards[rand.IntN(numShards)]
}

func topicShard(topic string) uint32 {
	// FNV-1a, inlined; hashing is the whole cost of this path.
	h := uint32(2166136261)
	for i := 0; i < len(topic); i++ {
		h ^= uint32(topic[i])
		h *= 16777619
	}
	return h % numShards
}

// Published counts one accepted event on the given topic.
func (c *Collector) Published(topic string) {
	c.shard().published.Add(1)
	s := c.shards[topicShard(topic)]
	s.mu.Lock()
	s.topics[topic]++
	s.mu.Unlock()
}

// Delivered counts n successfully delivered events from one delivery
// call. The latency histogram records the call, not each event.
func (c *Collector) Delivered(n int, latency time.Duration) {
	s := c.shard()
	s.delivered.Add(int64(n))
	s.latency[bucketFor(latency.Milliseconds())].Add(1)
}

// Failed counts one failed delivery attempt.
func (c *Collector) Failed() { c.shard().failed.Add(1) }

// Retried counts one scheduled retry.
func (c *Collector) Retried() { c.shard().retries.Add(1) }

// DeadLettered counts one exhausted event/subscription pair.
func (c *Collector) DeadLettered() { c.shard().deadLetters.Add(1) }

// SetActiveSubscriptions updates the active subscription gauge.
func (c *Collector) SetActiveSubscriptions(n int) { c.activeSubscriptions.Store(int64(n)) }

func bucketFor(ms int64) int {
	for i, bound := range latencyBuckets {
		if ms <= bound {
			return i
		}
	}
	return len(latencyBuckets)
}

// Snapshot is a point-in-time aggregation of all shards.
type Snapshot struct {
	PublishedTotal      int64            `json:"published_total"`
	PerTopic            map[string]int64 `json:"per_topic"`
	Delivered           int64            `json:"delivered"`
	Failed              int64            `json:"failed"`
	Retries             int64            `json:"retries"`
	DeadLetters         int64            `json:"dead_letters"`
	ActiveSubscriptions int64            `json:"active_subscriptions"`
	LatencyP50MS        int64            `json:"latency_p50_ms"`
	LatencyP95MS        int64            `json:"latency_p95_ms"`
	LatencyP99MS        int64            `json:"latency_p99_ms"`
}

// Snapshot folds the shards into one view.
func (c *Collector) Snapshot() Snapshot {
	snap := Snapshot{
		PerTopic:            make(map[string]int64),
		ActiveSubscriptions: c.activeSubscriptions.Load(),
	}
	var hist [len(latencyBuckets) + 1]int64
	for _, s := range c.shards {
		snap.PublishedTotal += s.published.Load()
		snap.Delivered += s.delivered.Load()
		snap.Failed += s.failed.Load()
		snap.Retries += s.retries.Load()
		snap.DeadLetters += s.deadLetters.Load()
		for i := range s.latency {
			hist[i] += s.latency[i].Load()
		}
		s.mu.Lock()
		for topic, n := range s.topics {
			snap.PerTopic[topic] += n
		}
		s.mu.Unlock()
	}
	snap.LatencyP50MS = percentile(hist[:], 0.50)
	snap.LatencyP95MS = percentile(hist[:], 0.95)
	snap.LatencyP99MS = percentile(hist[:], 0.99)
	return snap
}

// percentile reads a percentile off the bucket histogram, reporting the
// bucket upper bound that covers it.
func percentile(hist []int64, q float64) int64 {
	var total int64
	for _, n := range hist {
		total += n
	}
	if total == 0 {
		return 0
	}
	// Nearest-rank: the smallest rank covering the quantile.
	target := int64(math.Ceil(float64(total) * q))
	if target < 1 {
		target = 1
	}
	var seen int64
	for i, n := range hist {
		seen += n
		if seen >= target {
			if i < len(latencyBuckets) {
				return latencyBuckets[i]
			}
			return latencyBuckets[len(latencyBuckets)-1] * 2 // overflow bucket
		}
	}
	return latencyBuckets[len(latencyBuckets)-1] * 2
}

// TopTopics returns the n highest-volume topics from a snapshot.
func (s Snapshot) TopTopics(n int) []string {
	type kv struct {
		topic string
		count int64
	}
	pairs := make([]kv, 0, len(s.PerTopic))
	for t, c := range s.PerTopic {
		pairs = append(pairs, kv{t, c})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].topic < pairs[j].topic
	})
	if n > len(pairs) {
		n = len(pairs)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = pairs[i].topic
	}
	return out
}
