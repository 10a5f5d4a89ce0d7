package bus

import (
	"container/heap"
	"sync"
	"time"

	"github.com/fanoutsh/fanout/internal/domain"
)

// retryTask is one pending redelivery: which event, to which
// subscription, which attempt comes next, and the history so far.
type retryTask struct {
	due            time.Time
	subscriptionID string
	event          *domain.Event
	attempt        int // attempt number about to run (1-based)
	attempts       []domain.DeliveryAttempt

	index int // heap bookkeeping
}

type taskHeap []*retryTask

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *taskHeap) Push(x any)         { t := x.(*retryTask); t.index = len(*h); *h = append(*h, t) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// retryScheduler holds pending retries on a time-ordered heap and fires
// them from a single goroutine when due. Thousands of in-flight retries
// cost one timer, not one sleeping goroutine each, and cancelling a
// subscription can drop its pending work in one sweep.
type retryScheduler struct {
	mu    sync.Mutex
	tasks taskHeap
	wake  chan struct{}
	stop  chan struct{}
	done  chan struct{}
	fire  func(*retryTask)
}

// newRetryScheduler creates a scheduler delivering due tasks to fire.
// fire runs on the scheduler goroutine and must not block for long; the
// dispatcher hands tasks straight to pipeline queues.
func newRetryScheduler(fire func(*retryTask)) *retryScheduler {
	return &retryScheduler{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
		fire: fire,
	}
}

func (s *retryScheduler) start() {
	go s.run()
}

func (s *retryScheduler) run() {
	defer close(s.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.mu.Lock()
		var wait time.Duration
		if len(s.tasks) == 0 {
			wait = time.Hour
		} else {
			wait = time.Until(s.tasks[0].due)
		}
		s.mu.Unlock()

		if wait <= 0 {
			s.fireDue()
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			s.fireDue()
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}

func (s *retryScheduler) fireDue() {
	now := time.Now()
	for {
		s.mu.Lock()
		if len(s.tasks) == 0 || s.tasks[0].due.After(now) {
			s.mu.Unlock()
			return
		}
		task := heap.Pop(&s.tasks).(*retryTask)
		s.mu.Unlock()
		s.fire(task)
	}
}

// schedule queues a task and nudges the run loop.
func (s *retryScheduler) schedule(task *retryTask) {
	s.mu.Lock()
	heap.Push(&s.tasks, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// cancelSubscription drops all pending tasks for one subscription.
func (s *retryScheduler) cancelSubscription(subscriptionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.tasks[:0]
	for _, t := range s.tasks {
		if t.subscriptionID != subscriptionID {
			kept = append(kept, t)
		}
	}
	s.tasks = kept
	heap.Init(&s.tasks)
}

// pending returns the number of queued tasks.
func (s *retryScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// shutdown stops the run loop. Pending tasks are abandoned; the retry
// heap does not survive restarts.
func (s *retryScheduler) shutdown() {
	close(s.stop)
	<-s.done
}
