package repair

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLocks(t *testing.T) {
	l := NewSessionLocks()

	release, err := l.Acquire("s1", "run-1")
	require.NoError(t, err)

	_, err = l.Acquire("s1", "run-2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSessionBusy))

	holder, ok := l.Holder("s1")
	assert.True(t, ok)
	assert.Equal(t, "run-1", holder)

	other, err := l.Acquire("s2", "run-3")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Active())

	release()
	release()
	other()
	assert.Zero(t, l.Active())

	again, err := l.Acquire("s1", "run-4")
	require.NoError(t, err)
	again()
}

func TestSessionLocks_SingleWinner(t *testing.T) {
	l := NewSessionLocks()
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := l.Acquire("shared", fmt.Sprintf("run-%d", i)); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}
