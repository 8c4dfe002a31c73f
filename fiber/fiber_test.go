package fiber

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kobi2187/arsenal-sub002/backend"
)

func TestCoroutineLifecycle(t *testing.T) {
	co := New(backend.New(backend.Direct, 0), func(yield func(any) any, arg any) any {
		assert.Equal(t, "start", arg)
		v := yield("first")
		return v.(string) + "-done"
	})

	assert.Equal(t, Created, co.Status())

	v, err := co.Resume("start")
	assert.NoError(t, err)
	assert.Equal(t, "first", v)
	assert.Equal(t, Suspended, co.Status())

	v, err = co.Resume("second")
	assert.NoError(t, err)
	assert.Equal(t, "second-done", v)
	assert.Equal(t, Finished, co.Status())
}

func TestCoroutineResumeAfterFinishIsUsageError(t *testing.T) {
	co := New(backend.New(backend.Direct, 0), func(yield func(any) any, arg any) any {
		return nil
	})
	_, err := co.Resume(nil)
	assert.NoError(t, err)
	_, err = co.Resume(nil)
	assert.Error(t, err)
}

func TestCoroutinePanicBecomesError(t *testing.T) {
	co := New(backend.New(backend.Direct, 0), func(yield func(any) any, arg any) any {
		panic(errors.New("boom"))
	})
	_, err := co.Resume(nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.Equal(t, Finished, co.Status())
}

func TestCoroutineStatusString(t *testing.T) {
	assert.Equal(t, "created", Created.String())
	assert.Equal(t, "ready", Ready.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "suspended", Suspended.String())
	assert.Equal(t, "finished", Finished.String())
}

func TestNewWithOptionsDefaultsToDirect(t *testing.T) {
	co := NewWithOptions(func(yield func(any) any, arg any) any { return "ok" })
	v, err := co.Resume(nil)
	assert.NoError(t, err)
	assert.Equal(t, "ok", v)
}

func TestNewWithOptionsPooledYields(t *testing.T) {
	co := NewWithOptions(func(yield func(any) any, arg any) any {
		return yield("parked")
	}, WithStackBackend(backend.Pooled), WithStackSize(1))
	v, err := co.Resume(nil)
	assert.NoError(t, err)
	assert.Equal(t, "parked", v)
}

func TestCoroutineDestroyAfterFinish(t *testing.T) {
	co := New(backend.New(backend.Pooled, 1), func(yield func(any) any, arg any) any {
		return nil
	})
	_, err := co.Resume(nil)
	assert.NoError(t, err)
	assert.NoError(t, co.Destroy())
}
