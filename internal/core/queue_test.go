package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrder(t *testing.T) {
	q := NewQueue[int]()
	for i := 0; i < 100; i++ {
		require.True(t, q.Push(i))
	}
	for i := 0; i < 100; i++ {
		v, ok := q.Pop()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueuePushNeverBlocks(t *testing.T) {
	q := NewQueue[int]()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			q.Push(i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("push blocked without a consumer")
	}
	assert.Equal(t, 10000, q.Len())
}

func TestQueueCloseDropsLaterPushes(t *testing.T) {
	q := NewQueue[string]()
	q.Push("a")
	q.Close()
	assert.False(t, q.Push("b"))

	v, ok := q.Recv(context.Background())
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = q.Recv(context.Background())
	assert.False(t, ok)
}

func TestQueueRecvWaitsAndCancels(t *testing.T) {
	q := NewQueue[int]()

	var wg sync.WaitGroup
	wg.Add(1)
	var got []int
	go func() {
		defer wg.Done()
		for len(got) < 3 {
			v, ok := q.Recv(context.Background())
			if !ok {
				return
			}
			got = append(got, v)
		}
	}()
	for i := 1; i <= 3; i++ {
		q.Push(i)
	}
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3}, got)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok := q.Recv(ctx)
	assert.False(t, ok)
}
