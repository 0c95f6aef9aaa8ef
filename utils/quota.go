package utils

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"mailpilot/models"
)

// ErrQuotaExhausted is the normal scheduling outcome when a sender has no
// capacity left today. Callers rotate to another sender, they do not fail.
var ErrQuotaExhausted = errors.New("sender daily quota exhausted")

// QuotaTracker enforces the per-sender daily send limit with a
// reserve/commit/release protocol. A reservation holds capacity for an
// intent between scheduling and dispatch so that two concurrent schedulers
// can never both observe room and both send past the limit.
type QuotaTracker struct {
	db *gorm.DB

	mu       sync.Mutex // guards locks and inFlight
	locks    map[uint]*sync.Mutex
	inFlight map[uint]int
}

// Reservation is one granted unit of capacity on a sender. Exactly one of
// Commit or Release must be called; both are idempotent.
type Reservation struct {
	SenderID uint

	tracker *QuotaTracker
	once    sync.Once
}

func NewQuotaTracker(db *gorm.DB) *QuotaTracker {
	return &QuotaTracker{
		db:       db,
		locks:    make(map[uint]*sync.Mutex),
		inFlight: make(map[uint]int),
	}
}

// senderLock returns the mutex serializing all quota operations for one
// sender, creating it on first use.
func (q *QuotaTracker) senderLock(senderID uint) *sync.Mutex {
	q.mu.Lock()
	defer q.mu.Unlock()

	lock, ok := q.locks[senderID]
	if !ok {
		lock = &sync.Mutex{}
		q.locks[senderID] = lock
	}
	return lock
}

// TryReserve grants one unit of today's capacity on the sender, or returns
// ErrQuotaExhausted when committed sends plus in-flight reservations have
// reached the daily limit.
func (q *QuotaTracker) TryReserve(senderID uint) (*Reservation, error) {
	lock := q.senderLock(senderID)
	lock.Lock()
	defer lock.Unlock()

	var sender models.Sender
	if err := q.db.First(&sender, senderID).Error; err != nil {
		return nil, fmt.Errorf("failed to load sender %d: %w", senderID, err)
	}

	q.mu.Lock()
	inFlight := q.inFlight[senderID]
	q.mu.Unlock()

	if sender.SentToday+inFlight >= sender.DailyLimit {
		return nil, ErrQuotaExhausted
	}

	q.mu.Lock()
	q.inFlight[senderID]++
	q.mu.Unlock()

	return &Reservation{SenderID: senderID, tracker: q}, nil
}

// Commit consumes the reservation: the send happened, the counter moves.
func (r *Reservation) Commit() error {
	var err error
	r.once.Do(func() {
		lock := r.tracker.senderLock(r.SenderID)
		lock.Lock()
		defer lock.Unlock()

		r.tracker.decrementInFlight(r.SenderID)
		err = r.tracker.db.Model(&models.Sender{}).
			Where("id = ?", r.SenderID).
			Updates(map[string]interface{}{
				"sent_today": gorm.Expr("sent_today + ?", 1),
				"total_sent": gorm.Expr("total_sent + ?", 1),
			}).Error
	})
	return err
}

// Release abandons the reservation without consuming quota.
func (r *Reservation) Release() {
	r.once.Do(func() {
		lock := r.tracker.senderLock(r.SenderID)
		lock.Lock()
		defer lock.Unlock()

		r.tracker.decrementInFlight(r.SenderID)
	})
}

func (q *QuotaTracker) decrementInFlight(senderID uint) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight[senderID] > 0 {
		q.inFlight[senderID]--
	}
}

// InFlight reports the reservations currently held on a sender.
func (q *QuotaTracker) InFlight(senderID uint) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[senderID]
}

// ResetAllDaily zeroes every sender's daily counters and stamps the reset
// boundary. It serializes against reservation and commit by holding every
// known sender lock for the duration: a reservation that committed strictly
// before the reset is zeroed with the closing day, and a reservation still
// in flight survives the reset and counts against the new day.
func (q *QuotaTracker) ResetAllDaily() error {
	q.mu.Lock()
	ids := make([]uint, 0, len(q.locks))
	for id := range q.locks {
		ids = append(ids, id)
	}
	q.mu.Unlock()

	// Stable order; holders of a sender lock never take a second one, so
	// locking them all here cannot deadlock.
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		lock := q.senderLock(id)
		lock.Lock()
		defer lock.Unlock()
	}

	return q.db.Model(&models.Sender{}).
		Where("sent_today > 0 OR warmup_sent_today > 0 OR last_reset_at IS NULL").
		Updates(map[string]interface{}{
			"sent_today":        0,
			"warmup_sent_today": 0,
			"last_reset_at":     time.Now(),
		}).Error
}
