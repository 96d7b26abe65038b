package softtimer

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robotalks/canlink.go/pkg/status"
)

func TestTimerFires(t *testing.T) {
	timers := New()
	fired := make(chan ID, 1)
	id, err := timers.Start(10*time.Millisecond, func(id ID) { fired <- id })
	require.NoError(t, err)
	require.NotEqual(t, InvalidID, id)
	require.True(t, timers.InUse())
	require.True(t, timers.Remaining(id) > 0)

	select {
	case got := <-fired:
		require.Equal(t, id, got)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	require.False(t, timers.InUse())
	require.Equal(t, time.Duration(0), timers.Remaining(id))
	require.False(t, timers.Cancel(id))
}

func TestTimerCancel(t *testing.T) {
	timers := New()
	var fired int32
	id, err := timers.Start(20*time.Millisecond, func(ID) { atomic.AddInt32(&fired, 1) })
	require.NoError(t, err)
	require.True(t, timers.Cancel(id))
	require.False(t, timers.Cancel(id), "second cancel must report nothing cancelled")
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTimerStaleIDAfterReuse(t *testing.T) {
	timers := New()
	id1, err := timers.Start(time.Hour, func(ID) {})
	require.NoError(t, err)
	require.True(t, timers.Cancel(id1))

	id2, err := timers.Start(time.Hour, func(ID) {})
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
	require.False(t, timers.Cancel(id1))
	require.True(t, timers.Cancel(id2))
}

func TestTimerExhaustion(t *testing.T) {
	timers := New()
	defer timers.Close()
	for i := 0; i < MaxTimers; i++ {
		_, err := timers.Start(time.Hour, func(ID) {})
		require.NoError(t, err)
	}
	_, err := timers.Start(time.Hour, func(ID) {})
	require.True(t, errors.Is(err, status.ErrResourceExhausted))

	_, err = timers.Start(time.Hour, nil)
	require.True(t, errors.Is(err, status.ErrInvalidArgs))
}
