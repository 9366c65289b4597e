package rule

// ActionType discriminates the closed action set.
type ActionType string

const (
	ActionSetFact     ActionType = "setFact"
	ActionDeleteFact  ActionType = "deleteFact"
	ActionEmitEvent   ActionType = "emitEvent"
	ActionStartTimer  ActionType = "startTimer"
	ActionCancelTimer ActionType = "cancelTimer"
	ActionCallWebhook ActionType = "callWebhook"
	ActionLog         ActionType = "log"
)

// KnownActionType reports whether t names a recognised action kind.
func KnownActionType(t ActionType) bool {
	switch t {
	case ActionSetFact, ActionDeleteFact, ActionEmitEvent, ActionStartTimer,
		ActionCancelTimer, ActionCallWebhook, ActionLog:
		return true
	}
	return false
}

// Action is the tagged action variant. All string fields accept template
// expansion against the binding context ("{{event.orderId}}", "$1").
type Action struct {
	Type ActionType `json:"type"`

	// setFact / deleteFact.
	Key   string `json:"key,omitempty"`
	Value any    `json:"value,omitempty"`

	// emitEvent.
	Topic string         `json:"topic,omitempty"`
	Data  map[string]any `json:"data,omitempty"`

	// startTimer / cancelTimer.
	Timer      string `json:"timer,omitempty"`
	DurationMs int64  `json:"durationMs,omitempty"`
	Recurring  bool   `json:"recurring,omitempty"`

	// callWebhook.
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    any               `json:"body,omitempty"`

	// log.
	Level   string `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

func (a Action) clone() Action {
	c := a
	c.Value = CopyValue(a.Value)
	c.Data = CopyData(a.Data)
	if a.Headers != nil {
		h := make(map[string]string, len(a.Headers))
		for k, v := range a.Headers {
			h[k] = v
		}
		c.Headers = h
	}
	c.Body = CopyValue(a.Body)
	return c
}
