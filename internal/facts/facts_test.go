package facts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberfall/cinder/internal/testutil"
)

func TestStore_SetAndGet(t *testing.T) {
	s := New(testutil.NewManualClock())

	f, err := s.Set("customer:42:score", float64(87))
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Version)
	assert.Equal(t, int64(1735689600000), f.UpdatedAt)

	got, ok := s.Get("customer:42:score")
	require.True(t, ok)
	assert.Equal(t, float64(87), got.Value)
}

func TestStore_Set_BumpsVersion(t *testing.T) {
	clk := testutil.NewManualClock()
	s := New(clk)

	_, err := s.Set("k", 1)
	require.NoError(t, err)
	clk.Advance(time.Second)
	f, err := s.Set("k", 2)
	require.NoError(t, err)

	assert.Equal(t, int64(2), f.Version)
	assert.Equal(t, int64(1735689601000), f.UpdatedAt)
}

func TestStore_Set_EmptyKey(t *testing.T) {
	s := New(testutil.NewManualClock())
	_, err := s.Set("", 1)
	assert.Error(t, err)
}

func TestStore_Delete_ResetsVersionCounter(t *testing.T) {
	s := New(testutil.NewManualClock())

	_, err := s.Set("k", 1)
	require.NoError(t, err)
	_, err = s.Set("k", 2)
	require.NoError(t, err)

	ok, err := s.Delete("k")
	require.NoError(t, err)
	assert.True(t, ok)

	// Re-creating starts a fresh counter.
	f, err := s.Set("k", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.Version)
}

func TestStore_Delete_Absent(t *testing.T) {
	s := New(testutil.NewManualClock())
	ok, err := s.Delete("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_ChangeNotifications(t *testing.T) {
	s := New(testutil.NewManualClock())
	var changes []Change
	s.OnChange(func(ch Change) { changes = append(changes, ch) })

	_, err := s.Set("k", "a")
	require.NoError(t, err)
	_, err = s.Set("k", "b")
	require.NoError(t, err)
	_, err = s.Delete("k")
	require.NoError(t, err)

	require.Len(t, changes, 3)

	assert.Equal(t, Change{Key: "k", NewValue: "a", Version: 1}, changes[0])
	assert.Equal(t, Change{Key: "k", OldValue: "a", NewValue: "b", Version: 2}, changes[1])
	assert.Equal(t, Change{Key: "k", OldValue: "b", Version: 2, Deleted: true}, changes[2])
}

func TestStore_Query_Wildcard(t *testing.T) {
	s := New(testutil.NewManualClock())
	for _, k := range []string{"customer:1:score", "customer:2:score", "customer:1:name", "order:1"} {
		_, err := s.Set(k, true)
		require.NoError(t, err)
	}

	got := s.Query("customer:*:score")
	require.Len(t, got, 2)
	assert.Equal(t, "customer:1:score", got[0].Key)
	assert.Equal(t, "customer:2:score", got[1].Key)
}

func TestStore_First(t *testing.T) {
	s := New(testutil.NewManualClock())
	_, err := s.Set("customer:2:score", 20)
	require.NoError(t, err)
	_, err = s.Set("customer:1:score", 10)
	require.NoError(t, err)

	// Wildcard resolves the first match in key order.
	f, ok := s.First("customer:*:score")
	require.True(t, ok)
	assert.Equal(t, "customer:1:score", f.Key)

	// Exact key bypasses the scan.
	f, ok = s.First("customer:2:score")
	require.True(t, ok)
	assert.Equal(t, 20, f.Value)

	_, ok = s.First("customer:*:missing")
	assert.False(t, ok)
}

func TestStore_All_SortedCopies(t *testing.T) {
	s := New(testutil.NewManualClock())
	_, err := s.Set("b", map[string]any{"x": 1})
	require.NoError(t, err)
	_, err = s.Set("a", 1)
	require.NoError(t, err)

	all := s.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].Key)

	// Mutating the returned copy leaves the store untouched.
	all[1].Value.(map[string]any)["x"] = 99
	f, _ := s.Get("b")
	assert.Equal(t, 1, f.Value.(map[string]any)["x"])
}

func TestStore_Len(t *testing.T) {
	s := New(testutil.NewManualClock())
	assert.Equal(t, 0, s.Len())
	_, err := s.Set("k", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Len())
}
