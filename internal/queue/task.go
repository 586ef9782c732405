package queue

import "context"

// Task is the pending result of an asynchronous flush.
type Task struct {
	done chan struct{}
	res  Result
}

func newTask() *Task { return &Task{done: make(chan struct{})} }

func (t *Task) complete(r Result) {
	t.res = r
	close(t.done)
}

// Done is closed once the result is available.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns the flush result. Only valid after Done is closed.
func (t *Task) Result() Result { return t.res }

// Wait blocks until the flush completes or ctx is done.
func (t *Task) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.done:
		return t.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
