package actionlog

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

func TestRecent_NewestFirst(t *testing.T) {
	l := New(5)
	for i := 0; i < 3; i++ {
		l.Record(1, "note", fmt.Sprintf("n%d", i), base.Add(time.Duration(i)*time.Minute))
	}

	got := l.Recent(1, 0)
	require.Len(t, got, 3)
	assert.Equal(t, "n2", got[0].Summary)
	assert.Equal(t, "n0", got[2].Summary)

	got = l.Recent(1, 2)
	require.Len(t, got, 2)
	assert.Equal(t, []string{"n2", "n1"}, []string{got[0].Summary, got[1].Summary})
}

func TestRecord_DropsOldestWhenFull(t *testing.T) {
	l := New(3)
	for i := 0; i < 7; i++ {
		l.Record(1, "note", fmt.Sprintf("n%d", i), base)
	}

	got := l.Recent(1, 10)
	require.Len(t, got, 3)
	assert.Equal(t, "n6", got[0].Summary)
	assert.Equal(t, "n5", got[1].Summary)
	assert.Equal(t, "n4", got[2].Summary)
}

func TestUsersAreSeparate(t *testing.T) {
	l := New(0)
	l.Record(1, "note", "mine", base)
	l.Record(2, "task", "theirs", base)

	require.Len(t, l.Recent(1, 0), 1)
	assert.Equal(t, "mine", l.Recent(1, 0)[0].Summary)
	assert.Empty(t, l.Recent(3, 0))
}

func TestNew_DefaultSize(t *testing.T) {
	l := New(-1)
	for i := 0; i < DefaultSize+10; i++ {
		l.Record(1, "note", "x", base)
	}
	assert.Len(t, l.Recent(1, 0), DefaultSize)
}

func TestRecord_Concurrent(t *testing.T) {
	l := New(10)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Record(int64(i%2), "note", "x", base)
				_ = l.Recent(int64(i%2), 3)
			}
		}(i)
	}
	wg.Wait()
	assert.Len(t, l.Recent(0, 0), 10)
	assert.Len(t, l.Recent(1, 0), 10)
}
