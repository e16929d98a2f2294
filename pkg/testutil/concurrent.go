package testutil

import (
	"context"
	"errors"
	"sync"

	dErrors "healthcred/pkg/domain-errors"
	"healthcred/pkg/platform/sentinel"
)

// Tally counts outcomes of parallel calls, bucketed by error class.
type Tally struct {
	mu        sync.Mutex
	OK        int
	Transient int
	Rejected  int
	NotFound  int
	Other     []error
}

// Total is the number of calls made.
func (t *Tally) Total() int {
	return t.OK + t.Transient + t.Rejected + t.NotFound + len(t.Other)
}

func (t *Tally) add(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err == nil:
		t.OK++
	case errors.Is(err, sentinel.ErrNotFound), dErrors.HasCode(err, dErrors.CodeNotFound):
		t.NotFound++
	case dErrors.HasCode(err, dErrors.CodeTransient), dErrors.HasCode(err, dErrors.CodeTimeout):
		t.Transient++
	case dErrors.HasCode(err, dErrors.CodeValidation), dErrors.HasCode(err, dErrors.CodeVerificationFailed):
		t.Rejected++
	default:
		t.Other = append(t.Other, err)
	}
}

// RunConcurrent starts n goroutines that all call fn at once and waits for
// them. idx runs from 0 to n-1.
func RunConcurrent(n int, fn func(idx int) error) *Tally {
	return RunConcurrentCtx(context.Background(), n, func(_ context.Context, idx int) error {
		return fn(idx)
	})
}

// RunConcurrentCtx is RunConcurrent with a shared context.
func RunConcurrentCtx(ctx context.Context, n int, fn func(ctx context.Context, idx int) error) *Tally {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		out   = &Tally{}
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			out.add(fn(ctx, i))
		}()
	}
	close(start)
	wg.Wait()
	return out
}
