package interrupt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTriggerRunsHandler(t *testing.T) {
	c := New()
	defer c.Close()

	fired := make(chan Line, 4)
	line, ok := c.Register(func() { fired <- 0 })
	require.True(t, ok)
	c.Trigger(line)

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("handler not invoked")
	}
}

func TestCriticalExcludesHandler(t *testing.T) {
	c := New()
	defer c.Close()

	var (
		counter int
		wg      sync.WaitGroup
	)
	line, ok := c.Register(func() {
		counter++
		wg.Done()
	})
	require.True(t, ok)

	for i := 0; i < 100; i++ {
		wg.Add(1)
		c.Critical(func() { counter++ })
		c.Trigger(line)
		// Wait for this trigger so coalescing does not lose counts.
		wg.Wait()
	}
	c.Critical(func() {
		require.Equal(t, 200, counter)
	})
}

func TestRegisterLimit(t *testing.T) {
	c := New()
	defer c.Close()
	for i := 0; i < MaxLines; i++ {
		_, ok := c.Register(func() {})
		require.True(t, ok)
	}
	_, ok := c.Register(func() {})
	require.False(t, ok)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
}
