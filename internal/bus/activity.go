package bus

import (
	"sync"

	"github.com/emberfall/cinder/internal/pattern"
)

// ActivityType labels engine activity records pushed to external
// subscribers (the SSE / pub-sub bridge consumes these).
type ActivityType string

const (
	ActivityEvent       ActivityType = "event"
	ActivityFactChanged ActivityType = "fact.changed"
	ActivityTimerFired  ActivityType = "timer.fired"
	ActivityRuleFired   ActivityType = "rule.fired"
	ActivityRuleMatched ActivityType = "rule.matched"
)

// Activity is the notification schema for external subscribers.
type Activity struct {
	Type      ActivityType   `json:"type"`
	Payload   map[string]any `json:"payload"`
	Timestamp int64          `json:"timestamp"`
}

// ActivityHandler receives activity records.
type ActivityHandler func(Activity)

type activitySub struct {
	id      SubscriptionID
	pattern string
	fn      ActivityHandler
}

// ActivityFeed fans engine activity out to pattern-filtered subscribers.
// Patterns apply to the activity type under the dot-segment grammar
// ("rule.*" matches rule.fired and rule.matched).
type ActivityFeed struct {
	mu     sync.RWMutex
	subs   []activitySub
	nextID SubscriptionID
}

// NewActivityFeed creates an empty feed.
func NewActivityFeed() *ActivityFeed { return &ActivityFeed{} }

// Subscribe registers a handler for activity types matching pat.
func (f *ActivityFeed) Subscribe(pat string, fn ActivityHandler) SubscriptionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.subs = append(f.subs, activitySub{id: f.nextID, pattern: pat, fn: fn})
	return f.nextID
}

// Unsubscribe removes a subscription. Returns false if unknown.
func (f *ActivityFeed) Unsubscribe(id SubscriptionID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.subs {
		if s.id == id {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish delivers the activity to every matching subscriber.
func (f *ActivityFeed) Publish(a Activity) {
	f.mu.RLock()
	subs := make([]activitySub, len(f.subs))
	copy(subs, f.subs)
	f.mu.RUnlock()

	for _, s := range subs {
		if pattern.Match(s.pattern, string(a.Type), pattern.TopicSep) {
			func() {
				defer func() { _ = recover() }()
				s.fn(a)
			}()
		}
	}
}
