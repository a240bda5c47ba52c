package runner

import (
	"golang.org/x/sync/errgroup"
)

type Job func() error

// RunPool executes jobs with at most maxWorkers concurrently and returns the
// errors in job order. Jobs report results through their own indexed slots,
// so completion order never leaks to the caller.
func RunPool(maxWorkers int, jobs []Job) []error {
	if maxWorkers < 1 {
		maxWorkers = 1
	}

	slots := make([]error, len(jobs))
	var g errgroup.Group
	g.SetLimit(maxWorkers)
	for i, job := range jobs {
		g.Go(func() error {
			slots[i] = job()
			return nil
		})
	}
	g.Wait()

	var errs []error
	for _, err := range slots {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
