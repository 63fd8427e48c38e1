package insights

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveMonth(t *testing.T) {
	now := time.Date(2025, 4, 15, 9, 30, 0, 0, time.UTC)
	cases := []struct {
		raw  string
		want string
	}{
		{"", "2025-04"},
		{"2025-02", "2025-02"},
		{" 2024-12 ", "2024-12"},
		{"2023", "2023-04"},
		{"2023-13", "2023-04"},
		{"abcd-07", "2025-07"},
		{"2024-x", "2024-04"},
		{"garbage", "2025-04"},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			assert.Equal(t, tc.want, ResolveMonth(tc.raw, now).String())
		})
	}
}

func TestMonthRangeCoversWholeMonth(t *testing.T) {
	loc := time.FixedZone("WIB", 7*60*60)
	m := ResolveMonth("2024-02", time.Date(2025, 1, 1, 0, 0, 0, 0, loc))
	rng := m.Range()

	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, loc), rng.Start)
	assert.Equal(t, time.Date(2024, 2, 29, 23, 59, 59, int(time.Second-time.Nanosecond), loc), rng.End)
	assert.True(t, rng.Contains(time.Date(2024, 2, 29, 23, 59, 59, 0, loc)))
	assert.False(t, rng.Contains(time.Date(2024, 3, 1, 0, 0, 0, 0, loc)))
}

func TestMonthPreviousRollsOverYear(t *testing.T) {
	m := Month{Year: 2025, Month: time.January}
	prev := m.Previous()
	assert.Equal(t, "2024-12", prev.String())
	assert.Equal(t, "2025-02", Month{Year: 2025, Month: time.March}.Previous().String())
}

func TestMonthIsCurrentAndBefore(t *testing.T) {
	now := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, ResolveMonth("", now).IsCurrent(now))
	assert.False(t, ResolveMonth("2025-03", now).IsCurrent(now))
	assert.True(t, ResolveMonth("2025-03", now).Before(now))
	assert.True(t, ResolveMonth("2024-12", now).Before(now))
	assert.False(t, ResolveMonth("2025-04", now).Before(now))
	assert.False(t, ResolveMonth("2025-05", now).Before(now))
}

func TestWeeksAlwaysFourBuckets(t *testing.T) {
	for _, raw := range []string{"2025-02", "2024-02", "2025-04", "2025-01"} {
		t.Run(raw, func(t *testing.T) {
			m := ResolveMonth(raw, time.Now())
			weeks := m.Weeks()
			require.Len(t, weeks, 4)
			month := m.Range()
			assert.Equal(t, month.Start, weeks[0].Range.Start)
			for i, w := range weeks {
				assert.Equal(t, i+1, w.Index)
				assert.Equal(t, month.Start.AddDate(0, 0, 7*i), w.Range.Start)
				assert.False(t, w.Range.End.After(month.End))
				if i > 0 {
					assert.Equal(t, weeks[i-1].Range.End.Add(time.Nanosecond), w.Range.Start)
				}
			}
			assert.Equal(t, 28, weeks[3].Range.End.Day())
		})
	}
}
