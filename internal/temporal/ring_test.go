package temporal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/cinder/internal/bus"
)

func TestRing_ExpireDropsOldEntries(t *testing.T) {
	r := newRing(1600) // bucketMs = 100

	require.True(t, r.add(entry{at: 0, key: "a", num: 1}))
	require.True(t, r.add(entry{at: 150, key: "a", num: 2}))
	require.True(t, r.add(entry{at: 900, key: "b", num: 3}))

	dropped := r.expire(200)
	require.Len(t, dropped, 2)
	assert.Equal(t, float64(1), dropped[0].num)
	assert.Equal(t, float64(2), dropped[1].num)
	assert.Equal(t, 1, r.count)
}

func TestRing_Expire_BoundaryBucketFiltered(t *testing.T) {
	r := newRing(1600)

	require.True(t, r.add(entry{at: 110, num: 1}))
	require.True(t, r.add(entry{at: 190, num: 2}))

	// Cutoff lands mid-bucket: only the first entry drops.
	dropped := r.expire(150)
	require.Len(t, dropped, 1)
	assert.Equal(t, float64(1), dropped[0].num)
	assert.Equal(t, 1, r.count)
}

func TestRing_ForKey_TimeOrderPerKey(t *testing.T) {
	r := newRing(1600)
	r.add(entry{at: 0, key: "a", event: bus.Event{ID: "e1"}})
	r.add(entry{at: 500, key: "b", event: bus.Event{ID: "e2"}})
	r.add(entry{at: 900, key: "a", event: bus.Event{ID: "e3"}})

	var ids []string
	r.forKey("a", func(e entry) { ids = append(ids, e.event.ID) })
	assert.Equal(t, []string{"e1", "e3"}, ids)
}

func TestRing_Add_RejectsWhenFull(t *testing.T) {
	r := newRing(16)
	for i := 0; i < maxRingEntries; i++ {
		require.True(t, r.add(entry{at: int64(i)}))
	}
	assert.False(t, r.add(entry{at: 0}))

	r.reset()
	assert.True(t, r.add(entry{at: 0}))
}
