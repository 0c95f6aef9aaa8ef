package utils

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// IntentQueue holds deferred intents until their fire time and hands due
// ones to the dispatch handler on a bounded worker pool. Enqueue is safe
// for concurrent producers; the scheduling pass returns as soon as its
// intents are deferred.
type IntentQueue struct {
	logger  *logrus.Logger
	workers int

	mu      sync.Mutex
	pending intentHeap
	wake    chan struct{}
}

func NewIntentQueue(workers int, logger *logrus.Logger) *IntentQueue {
	if workers <= 0 {
		workers = 4
	}
	return &IntentQueue{
		logger:  logger,
		workers: workers,
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue defers an intent until its fire time.
func (iq *IntentQueue) Enqueue(intent *Intent) {
	iq.mu.Lock()
	heap.Push(&iq.pending, intent)
	iq.mu.Unlock()

	select {
	case iq.wake <- struct{}{}:
	default:
	}
}

// Len reports the number of pending intents.
func (iq *IntentQueue) Len() int {
	iq.mu.Lock()
	defer iq.mu.Unlock()
	return iq.pending.Len()
}

// Run fires due intents through handler until ctx is cancelled. Intents
// still pending at shutdown release their reservations; their queued
// EmailLog rows remain for the next scheduling pass to pick up.
func (iq *IntentQueue) Run(ctx context.Context, handler func(*Intent)) {
	work := make(chan *Intent)
	var wg sync.WaitGroup

	for i := 0; i < iq.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for intent := range work {
				handler(intent)
			}
		}()
	}

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		next, due := iq.nextDue()
		for _, intent := range due {
			select {
			case work <- intent:
			case <-ctx.Done():
				iq.drain(due)
				close(work)
				wg.Wait()
				return
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(next)

		select {
		case <-ctx.Done():
			iq.drainAll()
			close(work)
			wg.Wait()
			return
		case <-iq.wake:
		case <-timer.C:
		}
	}
}

// nextDue pops every intent whose fire time has passed and returns the
// wait until the next pending one.
func (iq *IntentQueue) nextDue() (time.Duration, []*Intent) {
	iq.mu.Lock()
	defer iq.mu.Unlock()

	now := time.Now()
	var due []*Intent
	for iq.pending.Len() > 0 && !iq.pending[0].FireAt.After(now) {
		due = append(due, heap.Pop(&iq.pending).(*Intent))
	}

	next := time.Hour
	if iq.pending.Len() > 0 {
		next = time.Until(iq.pending[0].FireAt)
		if next < 0 {
			next = 0
		}
	}
	return next, due
}

func (iq *IntentQueue) drain(due []*Intent) {
	for _, intent := range due {
		if intent.Reservation != nil {
			intent.Reservation.Release()
		}
	}
	iq.drainAll()
}

func (iq *IntentQueue) drainAll() {
	iq.mu.Lock()
	defer iq.mu.Unlock()

	dropped := iq.pending.Len()
	for iq.pending.Len() > 0 {
		intent := heap.Pop(&iq.pending).(*Intent)
		if intent.Reservation != nil {
			intent.Reservation.Release()
		}
	}
	if dropped > 0 && iq.logger != nil {
		iq.logger.WithField("pending", dropped).Info("intent queue drained on shutdown")
	}
}
