// Package router provides an in-process change notification bus. Stores
// publish object and index changes; listeners such as the HTTP layer or
// a sync client subscribe per bucket.
package router

import (
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// ChangeType represents the type of change being announced.
type ChangeType int

const (
	ObjectSaved ChangeType = iota
	ObjectDeleted
	IndexChanged
	BucketReset
)

// String returns the change type name.
func (c ChangeType) String() string {
	switch c {
	case ObjectSaved:
		return "object_saved"
	case ObjectDeleted:
		return "object_deleted"
	case IndexChanged:
		return "index_changed"
	case BucketReset:
		return "bucket_reset"
	default:
		return "unknown"
	}
}

// Notification represents a change within a bucket.
type Notification struct {
	Type   ChangeType
	Bucket string

	// Key is empty for bucket-wide changes
	Key string

	Timestamp int64
}

// Notifier provides an in-process pub/sub notification bus.
type Notifier struct {
	subscribers *xsync.MapOf[string, *Subscriber]
	bufferSize  int
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{
		subscribers: xsync.NewMapOf[string, *Subscriber](),
		bufferSize:  bufferSize,
	}
}

// Publish sends a notification to all subscribers.
// Non-blocking: if a subscriber's channel is full, the notification is dropped.
func (n *Notifier) Publish(notif Notification) {
	if notif.Timestamp == 0 {
		notif.Timestamp = time.Now().UnixNano()
	}
	n.subscribers.Range(func(_ string, sub *Subscriber) bool {
		if sub.matches(notif.Bucket) {
			select {
			case sub.Ch <- notif:
			default:
				// Channel full - drop notification, do NOT block
			}
		}
		return true
	})
}

// Subscribe adds a subscriber with a custom ID. Buckets restricts delivery
// to the named buckets; empty means every bucket.
func (n *Notifier) Subscribe(id string, buckets []string) *Subscriber {
	sub := &Subscriber{
		ID:      id,
		Buckets: buckets,
		Ch:      make(chan Notification, n.bufferSize),
	}
	n.subscribers.Store(sub.ID, sub)
	return sub
}

// SubscribeAutoID adds a subscriber with a generated ID.
func (n *Notifier) SubscribeAutoID(buckets ...string) *Subscriber {
	return n.Subscribe("sub_"+uuid.NewString(), buckets)
}

// Unsubscribe removes a subscriber from the notifier and closes their channel.
func (n *Notifier) Unsubscribe(subID string) {
	if sub, ok := n.subscribers.LoadAndDelete(subID); ok {
		close(sub.Ch)
	}
}

// Len returns the number of subscribers.
func (n *Notifier) Len() int {
	return n.subscribers.Size()
}

// Subscriber represents a notification subscriber.
type Subscriber struct {
	ID      string
	Buckets []string
	Ch      chan Notification
}

func (s *Subscriber) matches(bucket string) bool {
	if len(s.Buckets) == 0 {
		return true
	}
	for _, b := range s.Buckets {
		if b == bucket {
			return true
		}
	}
	return false
}
