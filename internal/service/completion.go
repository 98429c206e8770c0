package service

import "context"

// Completion is the local result of an accepted command.
type Completion struct {
	done chan struct{}
	err  error
}

func newCompletion() *Completion {
	return &Completion{done: make(chan struct{})}
}

// Completed returns an already finished Completion.
func Completed(err error) *Completion {
	c := newCompletion()
	c.finish(err)
	return c
}

func (c *Completion) finish(err error) {
	c.err = err
	close(c.done)
}

// Done is closed when the command has finished.
func (c *Completion) Done() <-chan struct{} { return c.done }

// Err returns the command's result, or nil while it is still running.
func (c *Completion) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Wait blocks until the command finishes or ctx is done.
func (c *Completion) Wait(ctx context.Context) error {
	select {
	case <-c.done:
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
