package utils

import (
	"time"
)

// Intent is a fully-resolved description of one email to be sent: the
// sender, the recipient, the rendered content, and the time it should
// fire. It is a first-class deferred task, not an ambient timer; every
// enqueued intent is mirrored by a queued EmailLog row so pending work is
// observable across a restart.
type Intent struct {
	Type   string // campaign, warmup, reply
	UserID uint

	SenderID  uint
	Recipient string
	Subject   string
	Body      string

	FireAt time.Time

	// Message-ID of the email being answered, for reply threading
	InReplyTo string

	// Campaign linkage
	CampaignID *uint
	LeadID     *uint
	StepNumber int

	// Warmup linkage
	WarmupEmailID *uint

	// The queued EmailLog row backing this intent
	EmailLogID uint

	// Capacity held since scheduling time; the dispatcher commits or
	// releases it. Nil for intents that reserve at dispatch (manual reply).
	Reservation *Reservation
}

// intentHeap orders intents by fire time
type intentHeap []*Intent

func (h intentHeap) Len() int            { return len(h) }
func (h intentHeap) Less(i, j int) bool  { return h[i].FireAt.Before(h[j].FireAt) }
func (h intentHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *intentHeap) Push(x interface{}) { *h = append(*h, x.(*Intent)) }

func (h *intentHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
