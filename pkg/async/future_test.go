package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shoalio/shoal/pkg/core"
)

func TestFuture_CompleteOnce(t *testing.T) {
	f := NewFuture()
	var successes, failures atomic.Int32
	f.OnSuccess(func(interface{}) { successes.Add(1) })
	f.OnFailure(func(error) { failures.Add(1) })

	f.Complete(42)
	f.Complete(43)
	f.Fail(errors.New("too late"))

	got, err := f.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("Await() = %v, want 42", got)
	}
	if successes.Load() != 1 || failures.Load() != 0 {
		t.Errorf("handlers ran (success=%d, failure=%d), want (1, 0)", successes.Load(), failures.Load())
	}
}

func TestFuture_AwaitBlocksUntilComplete(t *testing.T) {
	f := NewFuture()
	go func() {
		time.Sleep(20 * time.Millisecond)
		f.Complete("late")
	}()
	got, err := f.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "late" {
		t.Errorf("Await() = %v, want late", got)
	}
}

func TestFuture_AwaitHonorsContext(t *testing.T) {
	f := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); err == nil {
		t.Error("Await returned nil on cancelled context")
	}
}

func TestFuture_MultipleAwaiters(t *testing.T) {
	f := NewFuture()
	const n = 5
	var wg sync.WaitGroup
	results := make([]interface{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := f.Await(context.Background())
			if err != nil {
				t.Errorf("awaiter %d: %v", i, err)
			}
			results[i] = v
		}(i)
	}
	f.Complete("shared")
	wg.Wait()
	for i, v := range results {
		if v != "shared" {
			t.Errorf("awaiter %d observed %v", i, v)
		}
	}
}

func TestFuture_HandlerAfterCompletion(t *testing.T) {
	f := NewFuture()
	f.Complete("done")
	called := false
	f.OnSuccess(func(v interface{}) {
		called = true
		if v != "done" {
			t.Errorf("handler got %v", v)
		}
	})
	if !called {
		t.Error("OnSuccess handler not invoked for an already-completed future")
	}
}

func TestFuture_ThenCatch(t *testing.T) {
	f := NewFuture()
	chained := f.Then(func(v interface{}) (interface{}, error) {
		return v.(int) * 2, nil
	})
	f.Complete(21)
	got, err := chained.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != 42 {
		t.Errorf("Then result = %v, want 42", got)
	}

	failed := NewFuture()
	recovered := failed.Catch(func(err error) (interface{}, error) {
		return "recovered", nil
	})
	failed.Fail(errors.New("original"))
	got, err = recovered.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "recovered" {
		t.Errorf("Catch result = %v, want recovered", got)
	}
}

func TestPromise_TrySemantics(t *testing.T) {
	p := NewPromise()
	if !p.TryComplete(1) {
		t.Error("first TryComplete = false")
	}
	if p.TryComplete(2) {
		t.Error("second TryComplete = true")
	}
	if p.TryFail(errors.New("nope")) {
		t.Error("TryFail after completion = true")
	}
}

func TestFutureT_TypedAwait(t *testing.T) {
	p := NewPromiseT[string]()
	go p.Complete("typed")
	got, err := p.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "typed" {
		t.Errorf("Await() = %q, want typed", got)
	}
}

func TestFutureT_ThenTransformsType(t *testing.T) {
	p := NewPromiseT[int]()
	doubled := Then(&p.FutureT, func(v int) (string, error) {
		if v != 21 {
			t.Errorf("Then input = %d", v)
		}
		return "forty-two", nil
	})
	p.Complete(21)
	got, err := doubled.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "forty-two" {
		t.Errorf("Then result = %q", got)
	}
}

func TestAll_CollectsResults(t *testing.T) {
	a := NewPromiseT[int]()
	b := NewPromiseT[int]()
	all := All(context.Background(), &a.FutureT, &b.FutureT)
	a.Complete(1)
	b.Complete(2)
	got, err := all.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 2 {
		t.Errorf("All result = %v", got)
	}
}

func TestRace_FirstWins(t *testing.T) {
	fast := NewPromiseT[string]()
	slow := NewPromiseT[string]()
	winner := Race(context.Background(), &fast.FutureT, &slow.FutureT)
	fast.Complete("fast")
	got, err := winner.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != "fast" {
		t.Errorf("Race winner = %q", got)
	}
}

func TestFailed_CarriesError(t *testing.T) {
	f := Failed(core.ErrCancelled)
	if _, err := f.Await(context.Background()); !core.IsCancelled(err) {
		t.Errorf("Failed future error = %v, want cancelled", err)
	}
}
