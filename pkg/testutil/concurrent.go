package testutil

import (
	"sync"
	"sync/atomic"
)

// ConcurrentResult tracks outcomes of concurrent test operations.
type ConcurrentResult struct {
	Successes int32
	Errors    int32
}

// Total returns the number of operations executed.
func (r *ConcurrentResult) Total() int32 {
	return r.Successes + r.Errors
}

// RunConcurrent runs fn in n goroutines released at the same moment and
// counts successes and errors.
func RunConcurrent(n int, fn func(idx int) error) *ConcurrentResult {
	var successes, errs atomic.Int32
	RunConcurrentCollect(n, func(idx int) (struct{}, error) {
		if err := fn(idx); err != nil {
			errs.Add(1)
			return struct{}{}, err
		}
		successes.Add(1)
		return struct{}{}, nil
	})
	return &ConcurrentResult{Successes: successes.Load(), Errors: errs.Load()}
}

// RunConcurrentCollect runs fn in n goroutines released at the same moment
// and returns every value and error indexed by goroutine.
func RunConcurrentCollect[T any](n int, fn func(idx int) (T, error)) ([]T, []error) {
	values := make([]T, n)
	errs := make([]error, n)

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			<-start
			values[idx], errs[idx] = fn(idx)
		}(i)
	}
	close(start)
	wg.Wait()
	return values, errs
}
