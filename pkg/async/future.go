// Package async provides the hosted scheduler side of the runtime:
// futures and promises in the reactive style, a per-worker Scheduler
// installed through the worker's thread hooks, and the CompletionEvent
// bridge that turns wait sources into awaitables.
package async

import (
	"context"
	"sync"

	"github.com/shoalio/shoal/pkg/core"
)

// Future represents an asynchronous computation
type Future interface {
	// Complete completes the future with a result
	Complete(result interface{})

	// Fail fails the future with an error
	Fail(err error)

	// Result returns the result channel
	Result() <-chan FutureResult

	// OnSuccess registers a success handler
	OnSuccess(handler func(interface{})) Future

	// OnFailure registers a failure handler
	OnFailure(handler func(error)) Future

	// Map transforms the result
	Map(fn func(interface{}) interface{}) Future

	// Await waits for the future to complete and returns the result.
	// Blocks until the future completes or context is cancelled.
	Await(ctx context.Context) (interface{}, error)

	// Then chains a success handler; returns a new Future that completes
	// with the result of the handler
	Then(fn func(interface{}) (interface{}, error)) Future

	// Catch chains an error handler; returns a new Future that completes
	// with the result of the error handler
	Catch(fn func(error) (interface{}, error)) Future
}

// Promise is a writable Future
type Promise interface {
	Future

	// TryComplete attempts to complete the promise
	TryComplete(result interface{}) bool

	// TryFail attempts to fail the promise
	TryFail(err error) bool
}

// FutureResult represents the result of a future
type FutureResult struct {
	Value interface{}
	Error error
}

// future implements Future
type future struct {
	resultChan      chan FutureResult
	once            sync.Once
	mu              sync.Mutex
	completed       bool
	result          FutureResult
	successHandlers []func(interface{})
	failureHandlers []func(error)

	// onSettle is set by the owning Scheduler to drop the future from its
	// pending set once it completes either way.
	onSettle func()
}

// NewFuture creates a new standalone future
func NewFuture() Future {
	return newFuture()
}

func newFuture() *future {
	return &future{
		resultChan: make(chan FutureResult, 1),
	}
}

func (f *future) settle(result FutureResult) {
	f.once.Do(func() {
		f.mu.Lock()
		f.completed = true
		f.result = result
		success := f.successHandlers
		failure := f.failureHandlers
		f.successHandlers = nil
		f.failureHandlers = nil
		f.mu.Unlock()

		f.resultChan <- result

		if result.Error != nil {
			for _, handler := range failure {
				handler(result.Error)
			}
		} else {
			for _, handler := range success {
				handler(result.Value)
			}
		}
		if f.onSettle != nil {
			f.onSettle()
		}
	})
}

func (f *future) Complete(result interface{}) {
	f.settle(FutureResult{Value: result})
}

func (f *future) Fail(err error) {
	f.settle(FutureResult{Error: err})
}

func (f *future) Result() <-chan FutureResult {
	return f.resultChan
}

func (f *future) OnSuccess(handler func(interface{})) Future {
	f.mu.Lock()
	if f.completed {
		result := f.result
		f.mu.Unlock()
		if result.Error == nil {
			handler(result.Value)
		}
		return f
	}
	f.successHandlers = append(f.successHandlers, handler)
	f.mu.Unlock()
	return f
}

func (f *future) OnFailure(handler func(error)) Future {
	f.mu.Lock()
	if f.completed {
		result := f.result
		f.mu.Unlock()
		if result.Error != nil {
			handler(result.Error)
		}
		return f
	}
	f.failureHandlers = append(f.failureHandlers, handler)
	f.mu.Unlock()
	return f
}

func (f *future) Map(fn func(interface{}) interface{}) Future {
	mapped := newFuture()

	f.OnSuccess(func(result interface{}) {
		mapped.Complete(fn(result))
	})
	f.OnFailure(func(err error) {
		mapped.Fail(err)
	})

	return mapped
}

// Await waits for the future to complete and returns the result.
func (f *future) Await(ctx context.Context) (interface{}, error) {
	f.mu.Lock()
	if f.completed {
		result := f.result
		f.mu.Unlock()
		if result.Error != nil {
			return nil, result.Error
		}
		return result.Value, nil
	}
	f.mu.Unlock()

	select {
	case result := <-f.resultChan:
		// Put the result back for other awaiters.
		f.resultChan <- result
		if result.Error != nil {
			return nil, result.Error
		}
		return result.Value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *future) Then(fn func(interface{}) (interface{}, error)) Future {
	mapped := newFuture()

	f.OnSuccess(func(result interface{}) {
		newResult, err := fn(result)
		if err != nil {
			mapped.Fail(err)
		} else {
			mapped.Complete(newResult)
		}
	})
	f.OnFailure(func(err error) {
		mapped.Fail(err)
	})

	return mapped
}

func (f *future) Catch(fn func(error) (interface{}, error)) Future {
	mapped := newFuture()

	f.OnSuccess(func(result interface{}) {
		mapped.Complete(result)
	})
	f.OnFailure(func(err error) {
		newResult, handlerErr := fn(err)
		if handlerErr != nil {
			mapped.Fail(handlerErr)
		} else {
			mapped.Complete(newResult)
		}
	})

	return mapped
}

// promise implements Promise
type promise struct {
	*future
}

// NewPromise creates a new standalone promise
func NewPromise() Promise {
	return &promise{future: newFuture()}
}

func (p *promise) TryComplete(result interface{}) bool {
	p.mu.Lock()
	done := p.completed
	p.mu.Unlock()
	if done {
		return false
	}
	p.Complete(result)
	return true
}

func (p *promise) TryFail(err error) bool {
	p.mu.Lock()
	done := p.completed
	p.mu.Unlock()
	if done {
		return false
	}
	p.Fail(err)
	return true
}

// Completed creates a future already completed with value.
func Completed(value interface{}) Future {
	f := newFuture()
	f.Complete(value)
	return f
}

// Failed creates a future already failed with err.
func Failed(err error) Future {
	f := newFuture()
	if err == nil {
		err = core.Errorf(core.CodeUnknown, "future failed with nil error")
	}
	f.Fail(err)
	return f
}
