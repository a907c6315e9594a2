package window

import (
	"testing"

	"event-attach/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func records(n int) []model.EventRecord {
	out := make([]model.EventRecord, n)
	for i := range out {
		out[i] = model.EventRecord{"seq": i + 1}
	}
	return out
}

func seqs(rs []model.EventRecord) []int {
	out := make([]int, len(rs))
	for i, r := range rs {
		out[i] = r["seq"].(int)
	}
	return out
}

func TestEffectiveSize(t *testing.T) {
	for l := 0; l <= 25; l++ {
		assert.Equal(t, min(l, DefaultSize), EffectiveSize(l, Request{}), "unset, len=%d", l)

		for _, r := range []int{-3, 0, 1, 2, 9, 10, 11, 50} {
			want := min(max(r, 1), l)
			assert.Equal(t, want, EffectiveSize(l, Sized(r)), "len=%d req=%d", l, r)
		}
	}
}

func TestSelect_ReturnsTrailingSliceInArrivalOrder(t *testing.T) {
	for l := 0; l <= 20; l++ {
		for _, req := range []Request{{}, Sized(1), Sized(3), Sized(15), Sized(100)} {
			got := Select(records(l), req)
			n := EffectiveSize(l, req)

			require.Len(t, got, n)
			for i, s := range seqs(got) {
				assert.Equal(t, l-n+i+1, s)
			}
		}
	}
}

func TestSelect_Idempotent(t *testing.T) {
	rs := records(13)
	req := Sized(4)

	assert.Equal(t, Select(rs, req), Select(rs, req))
}

func TestSelect_DoesNotAliasInput(t *testing.T) {
	rs := records(3)
	got := Select(rs, Request{})
	got[0] = model.EventRecord{"seq": 99}

	assert.Equal(t, 1, rs[0]["seq"])
}

func TestSelect_FifteenFramesDefaultWindow(t *testing.T) {
	got := Select(records(15), Request{})
	assert.Equal(t, []int{6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, seqs(got))
}

func TestSelect_OversizedRequestClamps(t *testing.T) {
	got := Select(records(3), Sized(50))
	assert.Equal(t, []int{1, 2, 3}, seqs(got))
}

func TestSelect_EmptyBuffer(t *testing.T) {
	assert.Empty(t, Select(nil, Request{}))
	assert.Empty(t, Select(nil, Sized(5)))
	assert.Zero(t, EffectiveSize(0, Sized(5)))
}
