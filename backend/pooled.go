package backend

import "sync/atomic"

// pooledBackend implements Model Pooled: the host goroutine backing a
// context is not claimed until the context's first Resume, and a
// semaphore bounds how many contexts may hold a host goroutine at once.
// This is the closest Go analog to a shared-stack model: rather than one
// stack buffer shared by strictly one live coroutine at a time, a fixed
// number of slots are shared by however many contexts the caller creates,
// with Resume blocking until a slot frees up.
type pooledBackend struct {
	slots chan struct{}
}

func (b *pooledBackend) Create(entry func(self Context)) Context {
	return &pooledContext{
		backend:  b,
		entry:    entry,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
	}
}

type pooledContext struct {
	backend  *pooledBackend
	entry    func(self Context)
	resumeCh chan struct{}
	yieldCh  chan struct{}
	started  atomic.Bool
	finished atomic.Bool
}

// Resume claims a pool slot on the context's first call (spawning the
// backing goroutine only at that point), and blocks until the context
// yields or returns. Subsequent Resumes reuse the already-claimed
// goroutine and do not touch the semaphore again — the slot is held for
// the context's full lifetime once acquired, matching a shared-stack
// buffer being owned by one live coroutine until it finishes.
func (c *pooledContext) Resume() error {
	if c.finished.Load() {
		return errAlreadyFinished
	}
	if c.started.CompareAndSwap(false, true) {
		c.backend.slots <- struct{}{}
		go func() {
			<-c.resumeCh
			c.entry(c)
			c.finished.Store(true)
			<-c.backend.slots
			c.yieldCh <- struct{}{}
		}()
	}
	c.resumeCh <- struct{}{}
	<-c.yieldCh
	return nil
}

func (c *pooledContext) Yield() {
	c.yieldCh <- struct{}{}
	<-c.resumeCh
}

func (c *pooledContext) Finished() bool { return c.finished.Load() }

func (c *pooledContext) Destroy() error {
	if !c.finished.Load() {
		return errNotFinished
	}
	return nil
}
