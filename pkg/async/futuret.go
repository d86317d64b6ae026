package async

import (
	"context"

	"github.com/shoalio/shoal/pkg/core"
)

// FutureT is a type-safe Future using Go generics. This is a struct, not
// an interface, because Go doesn't allow type parameters on interface
// methods.
type FutureT[T any] struct {
	future Future
}

// PromiseT is a type-safe Promise using Go generics
type PromiseT[T any] struct {
	FutureT[T]
}

// NewFutureT creates a new type-safe Future
func NewFutureT[T any]() *FutureT[T] {
	return &FutureT[T]{future: NewFuture()}
}

// NewPromiseT creates a new type-safe Promise
func NewPromiseT[T any]() *PromiseT[T] {
	return &PromiseT[T]{
		FutureT: FutureT[T]{future: NewPromise()},
	}
}

// Untyped returns the underlying untyped Future.
func (f *FutureT[T]) Untyped() Future { return f.future }

// Await waits for the future to complete and returns the typed result.
func (f *FutureT[T]) Await(ctx context.Context) (T, error) {
	var zero T
	result, err := f.future.Await(ctx)
	if err != nil {
		return zero, err
	}
	if result == nil {
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		return zero, core.Errorf(core.CodeUnknown, "type assertion failed")
	}
	return typed, nil
}

// OnSuccess registers a typed callback
func (f *FutureT[T]) OnSuccess(handler func(T)) *FutureT[T] {
	f.future.OnSuccess(func(result interface{}) {
		if typed, ok := result.(T); ok {
			handler(typed)
		}
	})
	return f
}

// OnFailure registers an error callback
func (f *FutureT[T]) OnFailure(handler func(error)) *FutureT[T] {
	f.future.OnFailure(handler)
	return f
}

// Complete completes the promise with a typed value
func (p *PromiseT[T]) Complete(value T) {
	p.future.Complete(value)
}

// Fail fails the promise with an error
func (p *PromiseT[T]) Fail(err error) {
	p.future.Fail(err)
}

// Then chains a success handler. Returns a new Future with the
// transformed type.
func Then[T any, R any](f *FutureT[T], fn func(T) (R, error)) *FutureT[R] {
	mapped := NewFutureT[R]()

	f.future.OnSuccess(func(result interface{}) {
		typed, ok := result.(T)
		if !ok {
			mapped.future.Fail(core.Errorf(core.CodeUnknown, "type assertion failed"))
			return
		}
		newResult, err := fn(typed)
		if err != nil {
			mapped.future.Fail(err)
		} else {
			mapped.future.Complete(newResult)
		}
	})
	f.future.OnFailure(func(err error) {
		mapped.future.Fail(err)
	})

	return mapped
}

// Catch chains an error handler. Returns a new Future that recovers from
// errors.
func Catch[T any](f *FutureT[T], fn func(error) (T, error)) *FutureT[T] {
	mapped := NewFutureT[T]()

	f.future.OnSuccess(func(result interface{}) {
		typed, ok := result.(T)
		if !ok {
			mapped.future.Fail(core.Errorf(core.CodeUnknown, "type assertion failed"))
			return
		}
		mapped.future.Complete(typed)
	})
	f.future.OnFailure(func(err error) {
		newResult, handlerErr := fn(err)
		if handlerErr != nil {
			mapped.future.Fail(handlerErr)
		} else {
			mapped.future.Complete(newResult)
		}
	})

	return mapped
}

// MapT transforms the result synchronously
func MapT[T any, R any](f *FutureT[T], fn func(T) R) *FutureT[R] {
	mapped := NewFutureT[R]()

	f.future.OnSuccess(func(result interface{}) {
		typed, ok := result.(T)
		if !ok {
			mapped.future.Fail(core.Errorf(core.CodeUnknown, "type assertion failed"))
			return
		}
		mapped.future.Complete(fn(typed))
	})
	f.future.OnFailure(func(err error) {
		mapped.future.Fail(err)
	})

	return mapped
}

// All waits for all futures to complete (Promise.all style)
func All[T any](ctx context.Context, futures ...*FutureT[T]) *FutureT[[]T] {
	promise := NewPromiseT[[]T]()

	go func() {
		results := make([]T, 0, len(futures))
		for _, f := range futures {
			result, err := f.Await(ctx)
			if err != nil {
				promise.Fail(err)
				return
			}
			results = append(results, result)
		}
		promise.Complete(results)
	}()

	return &promise.FutureT
}

// Race returns the first future that completes (Promise.race style)
func Race[T any](ctx context.Context, futures ...*FutureT[T]) *FutureT[T] {
	promise := NewPromiseT[T]()

	go func() {
		resultChan := make(chan T, 1)
		errChan := make(chan error, 1)

		for _, f := range futures {
			go func(f *FutureT[T]) {
				result, err := f.Await(ctx)
				if err != nil {
					select {
					case errChan <- err:
					default:
					}
				} else {
					select {
					case resultChan <- result:
					default:
					}
				}
			}(f)
		}

		select {
		case result := <-resultChan:
			promise.Complete(result)
		case err := <-errChan:
			promise.Fail(err)
		case <-ctx.Done():
			promise.Fail(ctx.Err())
		}
	}()

	return &promise.FutureT
}
