package unboundedchan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueDeliversInOrder(t *testing.T) {
	q := New[int](0)

	const n = 20
	go func() {
		for i := range n {
			q.Send(i)
		}
		q.Close()
	}()

	var got []int
	for d := range q.Out() {
		got = append(got, d)
	}
	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
	assert.Zero(t, q.Dropped())
}

func TestQueueNeverBlocksSender(t *testing.T) {
	// Nobody reads Out until every item is sent.
	q := New[int](0)
	for i := range 1000 {
		assert.True(t, q.Send(i))
	}
	q.Close()
	count := 0
	for range q.Out() {
		count++
	}
	assert.Equal(t, 1000, count)
}

func TestQueueLimitDropsOldest(t *testing.T) {
	q := New[int](3)
	for i := range 10 {
		q.Send(i)
	}
	q.Close()
	var got []int
	for d := range q.Out() {
		got = append(got, d)
	}
	assert.Equal(t, []int{7, 8, 9}, got)
	assert.Equal(t, 7, q.Dropped())
}

func TestQueueSendAfterClose(t *testing.T) {
	q := New[string](0)
	q.Close()
	q.Close()
	assert.False(t, q.Send("late"))
	_, ok := <-q.Out()
	assert.False(t, ok)
}
