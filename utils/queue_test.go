package utils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailpilot/models"
)

func TestIntentQueueFiresInOrder(t *testing.T) {
	queue := NewIntentQueue(1, newTestLogger())

	var mu sync.Mutex
	var fired []string
	done := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go queue.Run(ctx, func(intent *Intent) {
		mu.Lock()
		fired = append(fired, intent.Recipient)
		if len(fired) == 3 {
			close(done)
		}
		mu.Unlock()
	})

	now := time.Now()
	queue.Enqueue(&Intent{Recipient: "third", FireAt: now.Add(150 * time.Millisecond)})
	queue.Enqueue(&Intent{Recipient: "first", FireAt: now.Add(-time.Second)})
	queue.Enqueue(&Intent{Recipient: "second", FireAt: now.Add(50 * time.Millisecond)})

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("intents did not fire in time")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, fired)
	assert.Zero(t, queue.Len())
}

func TestIntentQueueWaitsForFireTime(t *testing.T) {
	queue := NewIntentQueue(1, newTestLogger())

	firedAt := make(chan time.Time, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go queue.Run(ctx, func(intent *Intent) {
		firedAt <- time.Now()
	})

	target := time.Now().Add(200 * time.Millisecond)
	queue.Enqueue(&Intent{Recipient: "later", FireAt: target})

	select {
	case at := <-firedAt:
		assert.False(t, at.Before(target.Add(-20*time.Millisecond)))
	case <-time.After(3 * time.Second):
		t.Fatal("intent never fired")
	}
}

func TestIntentQueueReleasesReservationsOnShutdown(t *testing.T) {
	db := newTestDB(t)
	quota := NewQuotaTracker(db)
	sender := createSender(t, db, func(s *models.Sender) { s.DailyLimit = 5 })

	reservation, err := quota.TryReserve(sender.ID)
	require.NoError(t, err)
	require.Equal(t, 1, quota.InFlight(sender.ID))

	queue := NewIntentQueue(1, newTestLogger())
	queue.Enqueue(&Intent{
		Recipient:   "pending@example.com",
		FireAt:      time.Now().Add(time.Hour),
		Reservation: reservation,
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan struct{})
	go func() {
		queue.Run(ctx, func(*Intent) {})
		close(finished)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-finished:
	case <-time.After(3 * time.Second):
		t.Fatal("queue did not shut down")
	}

	assert.Equal(t, 0, quota.InFlight(sender.ID))
	assert.Zero(t, queue.Len())
}
