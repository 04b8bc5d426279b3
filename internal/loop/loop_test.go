package loop

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func start(t *testing.T) *Loop {
	t.Helper()
	l := New(16)
	go l.Run()
	t.Cleanup(l.Close)
	return l
}

func TestPostPreservesOrder(t *testing.T) {
	l := start(t)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	l.Do(func() {})
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestAwaitContinuesOnLoop(t *testing.T) {
	l := start(t)

	result := make(chan string, 1)
	Await(l, func() (string, error) {
		return "", errors.New("no device")
	}, func(_ string, err error) {
		result <- err.Error()
	})

	select {
	case msg := <-result:
		assert.Equal(t, "no device", msg)
	case <-time.After(time.Second):
		t.Fatal("continuation never ran")
	}
}

func TestPanicDoesNotKillLoop(t *testing.T) {
	l := start(t)

	l.Post(func() { panic("bad handler") })
	ok := false
	require.True(t, l.Do(func() { ok = true }))
	assert.True(t, ok)
}

func TestPostAfterClose(t *testing.T) {
	l := New(1)
	go l.Run()
	l.Close()
	<-l.Done()
	assert.False(t, l.Post(func() {}))
	assert.False(t, l.Do(func() {}))
}
