package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestActivityFeed_PatternOnType(t *testing.T) {
	f := NewActivityFeed()
	var rules, events []ActivityType
	f.Subscribe("rule.*", func(a Activity) { rules = append(rules, a.Type) })
	f.Subscribe("event", func(a Activity) { events = append(events, a.Type) })

	f.Publish(Activity{Type: ActivityRuleMatched})
	f.Publish(Activity{Type: ActivityRuleFired})
	f.Publish(Activity{Type: ActivityEvent})
	f.Publish(Activity{Type: ActivityTimerFired})

	assert.Equal(t, []ActivityType{ActivityRuleMatched, ActivityRuleFired}, rules)
	assert.Equal(t, []ActivityType{ActivityEvent}, events)
}

func TestActivityFeed_Unsubscribe(t *testing.T) {
	f := NewActivityFeed()
	var n int
	id := f.Subscribe("event", func(Activity) { n++ })

	f.Publish(Activity{Type: ActivityEvent})
	assert.True(t, f.Unsubscribe(id))
	f.Publish(Activity{Type: ActivityEvent})

	assert.Equal(t, 1, n)
}

func TestActivityFeed_ContainsPanics(t *testing.T) {
	f := NewActivityFeed()
	f.Subscribe("event", func(Activity) { panic("boom") })

	assert.NotPanics(t, func() { f.Publish(Activity{Type: ActivityEvent}) })
}
