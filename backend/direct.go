package backend

import "sync/atomic"

// directBackend implements Model Direct: every Context gets its own host
// goroutine, spawned eagerly at Create time, parked on an unbuffered
// channel until the first Resume. This is the closest Go analog to a
// per-coroutine-stack model — the "stack" (here, a goroutine) is
// reserved up front for the lifetime of the context.
type directBackend struct{}

func (directBackend) Create(entry func(self Context)) Context {
	c := &directContext{
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan struct{}),
	}
	go func() {
		<-c.resumeCh
		entry(c)
		c.finished.Store(true)
		c.yieldCh <- struct{}{}
	}()
	return c
}

type directContext struct {
	resumeCh chan struct{}
	yieldCh  chan struct{}
	finished atomic.Bool
}

func (c *directContext) Resume() error {
	if c.finished.Load() {
		return errAlreadyFinished
	}
	c.resumeCh <- struct{}{}
	<-c.yieldCh
	return nil
}

func (c *directContext) Yield() {
	c.yieldCh <- struct{}{}
	<-c.resumeCh
}

func (c *directContext) Finished() bool { return c.finished.Load() }

func (c *directContext) Destroy() error {
	if !c.finished.Load() {
		return errNotFinished
	}
	return nil
}
