package ordering

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextTask_EmptyGroupStartsAtBase(t *testing.T) {
	assert.Equal(t, 0, NextTask(0, nil))
	assert.Equal(t, 30000, NextTask(3, nil))
}

func TestNextTask_AppendsAfterMax(t *testing.T) {
	assert.Equal(t, 3001, NextTask(0, []int{1000, 3000, 2000}))
	assert.Equal(t, 20006, NextTask(2, []int{20000, 20005}))
}

func TestNextTask_StaleKeyFromOtherBandIsFolded(t *testing.T) {
	// keys written before the group changed bands
	got := NextTask(1, []int{2000})
	assert.True(t, InBand(got, 1))
	assert.Equal(t, 12001, got)
}

func TestNextTask_ClampsAtBandEnd(t *testing.T) {
	got := NextTask(1, []int{19999})
	assert.Equal(t, 19999, got)
	assert.True(t, InBand(got, 1))
}

func TestNextSubtask(t *testing.T) {
	assert.Equal(t, 0, NextSubtask(nil))
	assert.Equal(t, 2001, NextSubtask([]int{1000, 2000}))
}

func TestBandIsolation(t *testing.T) {
	for g := 0; g < 50; g++ {
		keys := []int{}
		for i := 0; i < 25; i++ {
			keys = append(keys, NextTask(g, keys))
		}
		keys = append(keys, Renumber(BaseFor(g), 25)...)
		keys = append(keys, Renumber(BaseFor(g), 3)...)
		for _, k := range keys {
			require.Truef(t, InBand(k, g), "key %d escaped band of group %d", k, g)
			for other := 0; other < 50; other++ {
				if other == g {
					continue
				}
				require.False(t, InBand(k, other))
			}
		}
	}
}

func TestRenumber_ThreeSiblings(t *testing.T) {
	assert.Equal(t, []int{1000, 2000, 3000}, Renumber(0, 3))
	assert.Equal(t, []int{11000, 12000, 13000}, Renumber(BaseFor(1), 3))
}

func TestRenumber_Idempotent(t *testing.T) {
	first := Renumber(BaseFor(4), 12)
	second := Renumber(BaseFor(4), 12)
	assert.Equal(t, first, second)
}

func TestRenumber_StrictlyIncreasingForLargeSets(t *testing.T) {
	for _, n := range []int{1, 9, 10, 57, 1000, 9999} {
		keys := Renumber(0, n)
		require.Len(t, keys, n)
		for i := 1; i < n; i++ {
			require.Less(t, keys[i-1], keys[i])
		}
		require.Less(t, keys[n-1], BandWidth)
	}
}

func TestMove(t *testing.T) {
	ids := []string{"A", "B", "C"}
	assert.Equal(t, []string{"C", "A", "B"}, Move(ids, 2, 0))
	assert.Equal(t, []string{"B", "C", "A"}, Move(ids, 0, 2))
	assert.Equal(t, []string{"B", "A", "C"}, Move(ids, 0, 1))
	assert.Equal(t, []string{"A", "B", "C"}, Move(ids, 1, 1))
	assert.Equal(t, []string{"B", "C", "A"}, Move(ids, 0, 99))
	assert.Equal(t, []string{"A", "B", "C"}, ids, "input must not be modified")
}

func TestBandAndOffset(t *testing.T) {
	assert.Equal(t, 0, Band(9999))
	assert.Equal(t, 1, Band(10000))
	assert.Equal(t, -1, Band(-1))
	assert.Equal(t, 9999, Offset(-1))
	assert.Equal(t, 5, Offset(30005))
}

func TestDense(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, Dense(3))
	assert.Empty(t, Dense(0))
}

func TestRebase_KeepsOffsetAndOrder(t *testing.T) {
	assert.Equal(t, 1000, Rebase(11000, 0))
	assert.Equal(t, 21000, Rebase(1000, 2))
	assert.Equal(t, 20000, Rebase(20000, 2))

	old := []int{10000, 10500, 13000}
	var moved []int
	for _, k := range old {
		r := Rebase(k, 3)
		require.True(t, InBand(r, 3))
		moved = append(moved, r)
	}
	assert.IsIncreasing(t, moved)
}
