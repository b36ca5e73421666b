// Package ordering computes integer sort keys for groups, tasks and subtasks.
//
// Top-level tasks of a group live in the band [BaseFor(g), BaseFor(g)+BandWidth)
// so a group never has to renumber tasks belonging to another group.
// Subtasks are scoped by their parent and use the band starting at zero.
//
// A full reorder spaces keys Gap apart; sets of ten or more siblings use a
// smaller step so the last key stays inside the band.
package ordering

const (
	// BandWidth is the size of the key range owned by one group.
	BandWidth = 10000
	// Gap is the distance between neighbours after a full reorder.
	Gap = 1000
)

// BaseFor returns the first key of the band owned by a group with the given
// display order.
func BaseFor(groupOrder int) int {
	return BandWidth * groupOrder
}

// Offset returns the position of key inside its band, always in [0, BandWidth).
func Offset(key int) int {
	m := key % BandWidth
	if m < 0 {
		m += BandWidth
	}
	return m
}

// Band returns the group order a key belongs to.
func Band(key int) int {
	if key < 0 {
		return (key+1)/BandWidth - 1
	}
	return key / BandWidth
}

// InBand reports whether key falls inside the band owned by groupOrder.
func InBand(key, groupOrder int) bool {
	base := BaseFor(groupOrder)
	return key >= base && key < base+BandWidth
}

// Rebase moves key into the band of groupOrder, keeping its offset.
func Rebase(key, groupOrder int) int {
	return BaseFor(groupOrder) + Offset(key)
}

// Next returns the key for an item appended after existing siblings in the
// band starting at base. An empty sibling set yields base itself.
func Next(base int, siblings []int) int {
	if len(siblings) == 0 {
		return base
	}
	max := siblings[0]
	for _, k := range siblings[1:] {
		if k > max {
			max = k
		}
	}
	off := Offset(max) + 1
	if off >= BandWidth {
		// the band is exhausted; ties fall back to insertion order
		off = BandWidth - 1
	}
	return base + off
}

// NextTask returns the key for a new top-level task in a group.
func NextTask(groupOrder int, siblings []int) int {
	return Next(BaseFor(groupOrder), siblings)
}

// NextSubtask returns the key for a new subtask under a parent.
func NextSubtask(siblings []int) int {
	return Next(0, siblings)
}

// Step returns the spacing used when renumbering n siblings. Up to nine
// siblings keep the regular Gap; larger sets shrink the spacing so the last
// key still fits in the band.
func Step(n int) int {
	if n <= 0 {
		return Gap
	}
	if n*Gap < BandWidth {
		return Gap
	}
	s := (BandWidth - 1) / n
	if s < 1 {
		return 1
	}
	return s
}

// Renumber assigns fresh keys to n siblings given in their visual order.
// The result is derived purely from position: the same n and base always
// produce the same keys.
func Renumber(base, n int) []int {
	step := Step(n)
	out := make([]int, n)
	for i := range out {
		out[i] = base + (i+1)*step
	}
	return out
}

// Move returns a copy of ids with the element at from moved to index to.
// Out-of-range targets are clamped to the ends of the slice.
func Move[T any](ids []T, from, to int) []T {
	out := make([]T, 0, len(ids))
	if from < 0 || from >= len(ids) {
		return append(out, ids...)
	}
	moved := ids[from]
	for i, v := range ids {
		if i != from {
			out = append(out, v)
		}
	}
	if to < 0 {
		to = 0
	}
	if to > len(out) {
		to = len(out)
	}
	out = append(out, moved)
	copy(out[to+1:], out[to:len(out)-1])
	out[to] = moved
	return out
}

// Dense returns the dense group orders 0..n-1.
func Dense(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}
