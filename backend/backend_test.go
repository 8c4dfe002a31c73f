package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testResumeYield(t *testing.T, be Backend) {
	var trace []string
	ctx := be.Create(func(self Context) {
		trace = append(trace, "start")
		self.Yield()
		trace = append(trace, "resumed")
	})

	assert.False(t, ctx.Finished())
	assert.NoError(t, ctx.Resume())
	assert.Equal(t, []string{"start"}, trace)
	assert.False(t, ctx.Finished())

	assert.NoError(t, ctx.Resume())
	assert.Equal(t, []string{"start", "resumed"}, trace)
	assert.True(t, ctx.Finished())
}

func TestDirectBackendResumeYield(t *testing.T) {
	testResumeYield(t, New(Direct, 0))
}

func TestPooledBackendResumeYield(t *testing.T) {
	testResumeYield(t, New(Pooled, 4))
}

func testResumeAfterFinishErrors(t *testing.T, be Backend) {
	ctx := be.Create(func(self Context) {})
	assert.NoError(t, ctx.Resume())
	assert.True(t, ctx.Finished())
	assert.Error(t, ctx.Resume())
}

func TestDirectBackendResumeAfterFinish(t *testing.T) {
	testResumeAfterFinishErrors(t, New(Direct, 0))
}

func TestPooledBackendResumeAfterFinish(t *testing.T) {
	testResumeAfterFinishErrors(t, New(Pooled, 2))
}

func testDestroyRequiresFinished(t *testing.T, be Backend) {
	ctx := be.Create(func(self Context) { self.Yield() })
	assert.Error(t, ctx.Destroy())
	assert.NoError(t, ctx.Resume())
	assert.NoError(t, ctx.Resume())
	assert.NoError(t, ctx.Destroy())
}

func TestDirectBackendDestroy(t *testing.T) {
	testDestroyRequiresFinished(t, New(Direct, 0))
}

func TestPooledBackendDestroy(t *testing.T) {
	testDestroyRequiresFinished(t, New(Pooled, 1))
}

func TestPooledBackendBoundsConcurrency(t *testing.T) {
	be := New(Pooled, 2)

	release := make(chan struct{})
	entered := make(chan struct{}, 3)
	ctxs := make([]Context, 3)
	for i := range ctxs {
		ctxs[i] = be.Create(func(self Context) {
			entered <- struct{}{}
			<-release
		})
	}

	for _, c := range ctxs {
		go c.Resume()
	}

	// Only 2 of the 3 should have been able to claim a pool slot.
	<-entered
	<-entered
	select {
	case <-entered:
		t.Fatal("a third context entered before any slot was released")
	default:
	}

	close(release)
}
