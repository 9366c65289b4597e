package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatch_Exact(t *testing.T) {
	assert.True(t, Match("order.created", "order.created", TopicSep))
	assert.False(t, Match("order.created", "order.updated", TopicSep))
}

func TestMatch_Wildcard(t *testing.T) {
	tests := []struct {
		pat     string
		subject string
		sep     string
		want    bool
	}{
		{"order.*", "order.created", TopicSep, true},
		{"order.*", "order.created.v2", TopicSep, false}, // segment counts differ
		{"*.created", "order.created", TopicSep, true},
		{"*", "order", TopicSep, true},
		{"*", "order.created", TopicSep, false}, // "*" is one segment only
		{"customer:*:score", "customer:42:score", FactSep, true},
		{"customer:*:score", "customer:42:name", FactSep, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.pat, tt.subject, tt.sep),
			"pattern %q subject %q", tt.pat, tt.subject)
	}
}

func TestMatchCaptures_ExtractsWildcardSegments(t *testing.T) {
	caps, ok := MatchCaptures("customer:*:order:*", "customer:42:order:1001", FactSep)
	require.True(t, ok)
	assert.Equal(t, []string{"42", "1001"}, caps)
}

func TestMatchCaptures_ExactMatchHasNoCaptures(t *testing.T) {
	caps, ok := MatchCaptures("order.created", "order.created", TopicSep)
	require.True(t, ok)
	assert.Nil(t, caps)
}

func TestMatchCaptures_NoMatch(t *testing.T) {
	_, ok := MatchCaptures("order.*", "payment.created", TopicSep)
	assert.False(t, ok)
}

func TestHasWildcard(t *testing.T) {
	assert.True(t, HasWildcard("order.*", TopicSep))
	assert.True(t, HasWildcard("*", TopicSep))
	assert.False(t, HasWildcard("order.created", TopicSep))
	// A "*" embedded in a segment is not a wildcard segment.
	assert.False(t, HasWildcard("order.cre*ted", TopicSep))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "order", Prefix("order.*", TopicSep))
	assert.Equal(t, "customer", Prefix("customer:*:score", FactSep))
	assert.Equal(t, "", Prefix("*.created", TopicSep))
	assert.Equal(t, "order.created", Prefix("order.created", TopicSep))
}

func TestIsValid(t *testing.T) {
	assert.True(t, IsValid("order.created", TopicSep))
	assert.True(t, IsValid("*", TopicSep))
	assert.False(t, IsValid("", TopicSep))
	assert.False(t, IsValid("order.", TopicSep))
	assert.False(t, IsValid(".created", TopicSep))
	assert.False(t, IsValid("customer::score", FactSep))
}
