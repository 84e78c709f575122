package curriculum

import (
	"strings"
	"testing"

	"github.com/kalambet/ethika/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withContent(id string, n int) resource.Resource {
	return resource.Resource{ID: id, Title: "T " + id, Content: strings.Repeat("x", n)}
}

func assertScheduleInvariants(t *testing.T, blocks []ScheduleBlock, hours float64) {
	t.Helper()
	var sum float64
	for i, b := range blocks {
		assert.Positive(t, b.DurationMinutes, "block %d", i)
		sum += b.DurationMinutes
		if i > 0 {
			prev := blocks[i-1]
			assert.Greater(t, b.StartOffsetMinutes, prev.StartOffsetMinutes, "block %d not strictly ordered", i)
			assert.GreaterOrEqual(t, b.StartOffsetMinutes+1e-9, prev.StartOffsetMinutes+prev.DurationMinutes, "block %d overlaps", i)
		}
	}
	assert.LessOrEqual(t, sum, hours*60+1e-6)
}

func TestBuildSchedule_Empty(t *testing.T) {
	got := BuildSchedule(nil, 2, DefaultScheduleOptions())
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestBuildSchedule_ProportionalWithinCap(t *testing.T) {
	rs := []resource.Resource{withContent("a", 100), withContent("b", 300)}
	got := BuildSchedule(rs, 1, ScheduleOptions{MinBlockMinutes: 5, MaxBlockMinutes: 0})

	require.Len(t, got, 2)
	assert.InDelta(t, 15, got[0].DurationMinutes, 0.01)
	assert.InDelta(t, 45, got[1].DurationMinutes, 0.01)
	assert.Equal(t, 0.0, got[0].StartOffsetMinutes)
	assert.InDelta(t, 15, got[1].StartOffsetMinutes, 0.01)
	assert.Equal(t, "a", got[0].ResourceID)
	assert.Equal(t, "T b", got[1].Title)
	assertScheduleInvariants(t, got, 1)
}

func TestBuildSchedule_CapAndFloor(t *testing.T) {
	rs := []resource.Resource{withContent("big", 10000), withContent("tiny", 1)}
	got := BuildSchedule(rs, 3, DefaultScheduleOptions())

	require.Len(t, got, 2)
	assert.Equal(t, 30.0, got[0].DurationMinutes)
	assert.Equal(t, 10.0, got[1].DurationMinutes)
	assertScheduleInvariants(t, got, 3)
}

func TestBuildSchedule_ScalesDownNeverDrops(t *testing.T) {
	var rs []resource.Resource
	for i := 0; i < 12; i++ {
		rs = append(rs, withContent(string(rune('a'+i)), 50))
	}
	// 12 blocks at the 10 minute floor need 120 minutes; only 60 exist.
	got := BuildSchedule(rs, 1, DefaultScheduleOptions())

	require.Len(t, got, 12)
	for _, b := range got {
		assert.InDelta(t, 5, b.DurationMinutes, 0.01)
	}
	assertScheduleInvariants(t, got, 1)
}

func TestBuildSchedule_EmptyContentGetsMinimumWeight(t *testing.T) {
	rs := []resource.Resource{withContent("a", 0), withContent("b", 0)}
	got := BuildSchedule(rs, 1, ScheduleOptions{})

	require.Len(t, got, 2)
	assert.InDelta(t, 30, got[0].DurationMinutes, 0.01)
	assert.InDelta(t, 30, got[1].DurationMinutes, 0.01)
	assertScheduleInvariants(t, got, 1)
}

func TestBuildSchedule_NonPositiveHours(t *testing.T) {
	assert.Empty(t, BuildSchedule([]resource.Resource{withContent("a", 10)}, 0, DefaultScheduleOptions()))
}

func TestBuildSchedule_UnevenSharesStayWithinBudget(t *testing.T) {
	rs := []resource.Resource{withContent("a", 7), withContent("b", 11), withContent("c", 13)}
	got := BuildSchedule(rs, 0.5, ScheduleOptions{MinBlockMinutes: 0, MaxBlockMinutes: 0})
	require.Len(t, got, 3)
	assertScheduleInvariants(t, got, 0.5)
}
