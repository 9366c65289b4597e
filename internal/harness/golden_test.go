package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/emberfall/cinder/internal/rule"
)

func TestGolden_SingleRuleLog(t *testing.T) {
	res := RunWithGolden(t, &Scenario{
		Name: "single-rule-log",
		Rules: []*rule.Rule{{
			ID:      "log-order",
			Name:    "Log order",
			Enabled: true,
			Trigger: rule.Trigger{Type: rule.TriggerEvent, Topic: "order.created"},
			Actions: []rule.Action{{Type: rule.ActionLog, Message: "order received"}},
		}},
		Steps: []Step{
			{Emit: &EmitStep{Topic: "order.created", Data: map[string]any{"orderId": "order-77"}}},
		},
	})

	assert.Equal(t, []string{"log-order"}, res.FiredRules())
}
