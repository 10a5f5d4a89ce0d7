package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/fanoutsh/fanout/internal/domain"
)

// Replay speed bounds. 1.0 reproduces the original event timing.
const (
	MinReplaySpeed = 0.1
	MaxReplaySpeed = 100.0
)

// ReplayState is the lifecycle of one replay run.
type ReplayState string

const (
	ReplayRunning   ReplayState = "running"
	ReplayCompleted ReplayState = "completed"
	ReplayCancelled ReplayState = "cancelled"
	ReplayFailed    ReplayState = "failed"
)

// ReplayInput describes a requested replay. Pattern optionally narrows
// the stream; SubscriptionIDs optionally targets specific subscribers
// instead of normal routing.
type ReplayInput struct {
	From            time.Time `json:"from"`
	To              time.Time `json:"to"`
	Pattern         string    `json:"topic,omitempty"`
	SubscriptionIDs []string  `json:"subscription_ids,omitempty"`
	Speed           float64   `json:"speed,omitempty"`
}

// UnmarshalJSON accepts the long-form field names (from_timestamp,
// to_timestamp, topic_pattern, subscriber_ids, speed_multiplier) as
// aliases for the short ones. Short names win when both are present.
func (in *ReplayInput) UnmarshalJSON(data []byte) error {
	var raw struct {
		From            time.Time `json:"from"`
		FromTimestamp   time.Time `json:"from_timestamp"`
		To              time.Time `json:"to"`
		ToTimestamp     time.Time `json:"to_timestamp"`
		Pattern         string    `json:"topic"`
		TopicPattern    string    `json:"topic_pattern"`
		SubscriptionIDs []string  `json:"subscription_ids"`
		SubscriberIDs   []string  `json:"subscriber_ids"`
		Speed           float64   `json:"speed"`
		SpeedMultiplier float64   `json:"speed_multiplier"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	in.From = raw.From
	if in.From.IsZero() {
		in.From = raw.FromTimestamp
	}
	in.To = raw.To
	if in.To.IsZero() {
		in.To = raw.ToTimestamp
	}
	in.Pattern = raw.Pattern
	if in.Pattern == "" {
		in.Pattern = raw.TopicPattern
	}
	in.SubscriptionIDs = raw.SubscriptionIDs
	if len(in.SubscriptionIDs) == 0 {
		in.SubscriptionIDs = raw.SubscriberIDs
	}
	in.Speed = raw.Speed
	if in.Speed == 0 {
		in.Speed = raw.SpeedMultiplier
	}
	return nil
}

// ReplayInfo is the observable status of a replay run.
type ReplayInfo struct {
	ID              string      `json:"id"`
	State           ReplayState `json:"state"`
	From            time.Time   `json:"from"`
	To              time.Time   `json:"to"`
	Pattern         string      `json:"topic,omitempty"`
	SubscriptionIDs []string    `json:"subscription_ids,omitempty"`
	Speed           float64     `json:"speed"`
	EventsTotal     int64       `json:"events_to_replay"`
	EventsReplayed  int64       `json:"events_replayed"`
	EstimatedMS     int64       `json:"estimated_duration_ms"`
	StartedAt       time.Time   `json:"started_at"`
	FinishedAt      *time.Time  `json:"finished_at,omitempty"`
	Error           string      `json:"error,omitempty"`
}

// MarshalJSON also emits the long-form keys (replay_id, status,
// estimated_duration) next to the canonical ones.
func (i ReplayInfo) MarshalJSON() ([]byte, error) {
	type plain ReplayInfo
	return json.Marshal(struct {
		plain
		ReplayID  string `json:"replay_id"`
		Status    string `json:"status"`
		Estimated int64  `json:"estimated_duration"`
	}{plain(i), i.ID, string(i.State), i.EstimatedMS})
}

type replayRun struct {
	info   ReplayInfo
	count  atomic.Int64
	cancel context.CancelFunc

	mu       sync.Mutex
	state    ReplayState
	finished *time.Time
	errMsg   string
}

func (r *replayRun) snapshot() ReplayInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	info := r.info
	info.State = r.state
	info.EventsReplayed = r.count.Load()
	info.FinishedAt = r.finished
	info.Error = r.errMsg
	return info
}

func (r *replayRun) finish(state ReplayState, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != ReplayRunning {
		return
	}
	r.state = state
	r.errMsg = errMsg
	now := time.Now().UTC()
	r.finished = &now
}

// StartReplay streams historical events in [from, to) back through
// delivery, paced by the original inter-event gaps divided by speed.
// Replayed events keep their original IDs and carry a replay marker so
// subscribers can separate them from live traffic.
func (b *Bus) StartReplay(ctx context.Context, in ReplayInput) (*ReplayInfo, error) {
	if in.From.IsZero() || in.To.IsZero() {
		return nil, domain.Validationf("replay requires from and to timestamps")
	}
	if !in.From.Before(in.To) {
		return nil, domain.Validationf("replay range is empty: from must precede to")
	}
	if in.Speed == 0 {
		in.Speed = 1.0
	}
	if in.Speed < MinReplaySpeed || in.Speed > MaxReplaySpeed {
		return nil, domain.Validationf("replay speed %.2f outside [%.1f, %.1f]", in.Speed, MinReplaySpeed, MaxReplaySpeed)
	}
	if in.Pattern != "" {
		if err := ValidatePattern(in.Pattern); err != nil {
			return nil, err
		}
	}
	for _, id := range in.SubscriptionIDs {
		if _, err := b.subs.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	var total int64
	err := b.events.Range(ctx, in.From, in.To, func(event *domain.Event) error {
		if in.Pattern == "" || MatchTopic(in.Pattern, event.Topic) {
			total++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("count replay events: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &replayRun{
		info: ReplayInfo{
			ID:              "rp_" + uuid.NewString(),
			From:            in.From,
			To:              in.To,
			Pattern:         in.Pattern,
			SubscriptionIDs: in.SubscriptionIDs,
			Speed:           in.Speed,
			EventsTotal:     total,
			EstimatedMS:     int64(float64(in.To.Sub(in.From).Milliseconds()) / in.Speed),
			StartedAt:       time.Now().UTC(),
		},
		cancel: cancel,
		state:  ReplayRunning,
	}

	b.replayMu.Lock()
	b.replays[run.info.ID] = run
	b.replayMu.Unlock()

	go b.runReplay(runCtx, run, in)

	slog.Info("replay started",
		"replay_id", run.info.ID,
		"from", in.From,
		"to", in.To,
		"speed", in.Speed,
	)
	info := run.snapshot()
	return &info, nil
}

func (b *Bus) runReplay(ctx context.Context, run *replayRun, in ReplayInput) {
	var prev time.Time

	err := b.events.Range(ctx, in.From, in.To, func(event *domain.Event) error {
		if in.Pattern != "" && !MatchTopic(in.Pattern, event.Topic) {
			return nil
		}

		// Pace by the compressed (or stretched) original gap.
		if !prev.IsZero() {
			gap := time.Duration(float64(event.Timestamp.Sub(prev)) / in.Speed)
			if gap > 0 {
				timer := time.NewTimer(gap)
				select {
				case <-ctx.Done():
					timer.Stop()
					return ctx.Err()
				case <-timer.C:
				}
			}
		}
		prev = event.Timestamp

		cp := *event
		cp.Metadata.Replay = true
		cp.Metadata.ReplayID = run.info.ID
		b.deliverReplayed(&cp, in.SubscriptionIDs)
		run.count.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return nil
		}
	})

	switch {
	case err == nil:
		run.finish(ReplayCompleted, "")
	case ctx.Err() != nil:
		run.finish(ReplayCancelled, "")
	default:
		run.finish(ReplayFailed, err.Error())
		slog.Error("replay failed", "replay_id", run.info.ID, "error", err)
	}
	slog.Info("replay finished",
		"replay_id", run.info.ID,
		"state", string(run.snapshot().State),
		"events", run.count.Load(),
	)
}

// deliverReplayed routes one replayed event: explicitly targeted
// subscriptions bypass pattern matching but never filters.
func (b *Bus) deliverReplayed(event *domain.Event, targetIDs []string) {
	if len(targetIDs) == 0 {
		b.fanOut(event)
		return
	}
	for _, id := range targetIDs {
		if err := b.dispatcher.Enqueue(id, event); err != nil {
			slog.Warn("replay enqueue failed",
				"subscription_id", id,
				"event_id", event.ID,
				"error", err,
			)
		}
	}
}

// CancelReplay stops a running replay. Already-delivered events are not
// recalled.
func (b *Bus) CancelReplay(id string) error {
	b.replayMu.RLock()
	run, ok := b.replays[id]
	b.replayMu.RUnlock()
	if !ok {
		return domain.NotFoundf("replay %s not found", id)
	}
	run.cancel()
	return nil
}

// Replay returns the status of one replay run.
func (b *Bus) Replay(id string) (*ReplayInfo, error) {
	b.replayMu.RLock()
	run, ok := b.replays[id]
	b.replayMu.RUnlock()
	if !ok {
		return nil, domain.NotFoundf("replay %s not found", id)
	}
	info := run.snapshot()
	return &info, nil
}

// Replays lists all replay runs, newest first.
func (b *Bus) Replays() []ReplayInfo {
	b.replayMu.RLock()
	out := make([]ReplayInfo, 0, len(b.replays))
	for _, run := range b.replays {
		out = append(out, run.snapshot())
	}
	b.replayMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}
