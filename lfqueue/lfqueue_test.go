package lfqueue

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kobi2187/arsenal-sub002/errs"
)

func TestSPSCPushPopOrder(t *testing.T) {
	q := NewSPSC[int](4)
	assert.Equal(t, 4, q.Cap())
	assert.NoError(t, q.Push(1))
	assert.NoError(t, q.Push(2))
	assert.NoError(t, q.Push(3))
	assert.NoError(t, q.Push(4))
	assert.ErrorIs(t, q.Push(5), errs.ErrWouldBlock)
	assert.True(t, q.IsFull())

	for _, want := range []int{1, 2, 3, 4} {
		v, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, want, v)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
	assert.True(t, q.IsEmpty())
}

func TestSPSCRoundsUpCapacity(t *testing.T) {
	q := NewSPSC[int](3)
	assert.Equal(t, 4, q.Cap())
}

func TestSPSCConcurrentProducerConsumer(t *testing.T) {
	const n = 100_000
	q := NewSPSC[int](256)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for q.Push(i) != nil {
			}
		}
	}()

	sum := 0
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			for {
				v, ok := q.Pop()
				if ok {
					sum += v
					break
				}
			}
		}
	}()

	wg.Wait()
	want := n * (n - 1) / 2
	assert.Equal(t, want, sum)
}

func TestMPMCCorrectnessUnderContention(t *testing.T) {
	const producers = 4
	const perProducer = 1000
	q := NewMPMC[int](256)

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				for q.Push(p*1000+i) != nil {
				}
			}
		}(p)
	}

	var mu sync.Mutex
	var popped []int
	var consumeWg sync.WaitGroup
	consumeWg.Add(1)
	go func() {
		defer consumeWg.Done()
		for len(popped) < producers*perProducer {
			if v, ok := q.Pop(); ok {
				mu.Lock()
				popped = append(popped, v)
				mu.Unlock()
			}
		}
	}()

	wg.Wait()
	consumeWg.Wait()

	want := make([]int, 0, producers*perProducer)
	for p := 0; p < producers; p++ {
		for i := 0; i < perProducer; i++ {
			want = append(want, p*1000+i)
		}
	}
	sort.Ints(want)
	sort.Ints(popped)
	assert.Equal(t, want, popped)
}

func TestMPMCFullAndEmpty(t *testing.T) {
	q := NewMPMC[int](2)
	assert.NoError(t, q.Push(1))
	assert.NoError(t, q.Push(2))
	assert.ErrorIs(t, q.Push(3), errs.ErrWouldBlock)
	assert.True(t, q.IsFull())

	v, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = NewMPMC[int](1).Pop()
	assert.False(t, ok)
}
