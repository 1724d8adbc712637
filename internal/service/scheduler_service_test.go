package service

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDailySpec(t *testing.T) {
	spec, err := buildDailySpec("09:05")
	require.NoError(t, err)
	assert.Equal(t, "0 5 9 * * *", spec)

	spec, err = buildDailySpec(" 23:59 ")
	require.NoError(t, err)
	assert.Equal(t, "0 59 23 * * *", spec)

	for _, bad := range []string{"", "9", "24:00", "12:60", "aa:bb", "1:2:3"} {
		_, err := buildDailySpec(bad)
		assert.Error(t, err, bad)
	}
}

func TestScheduleDaily(t *testing.T) {
	s := NewSchedulerService(time.UTC, discardLogger())
	id, err := s.ScheduleDaily("07:30", func() {})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	next := s.Next(id)
	require.False(t, next.IsZero())
	assert.Equal(t, 7, next.Hour())
	assert.Equal(t, 30, next.Minute())
}

func TestScheduleInterval(t *testing.T) {
	s := NewSchedulerService(nil, discardLogger())
	_, err := s.ScheduleInterval(0, func() {})
	require.Error(t, err)

	var runs atomic.Int32
	_, err = s.ScheduleInterval(time.Second, func() { runs.Add(1) })
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestScheduler_PanickingJobIsRecovered(t *testing.T) {
	s := NewSchedulerService(time.UTC, discardLogger())
	var after atomic.Int32
	_, err := s.ScheduleInterval(time.Second, func() {
		if after.Add(1) == 1 {
			panic("boom")
		}
	})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return after.Load() >= 2 }, 4*time.Second, 20*time.Millisecond)
}
