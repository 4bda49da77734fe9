package utils

import "sync"

type CompletedTask[T any] struct {
	Result T
	Error  error
}

// MapInPool runs worker over inputs with at most maxWorkers goroutines in
// flight. Results come back indexed by input position, so completion order
// never matters to the caller.
func MapInPool[In any, Out any](worker func(In) (Out, error), inputs []In, maxWorkers int) []CompletedTask[Out] {
	results := make([]CompletedTask[Out], len(inputs))
	if len(inputs) == 0 {
		return results
	}

	workers := min(len(inputs), maxWorkers)
	if workers < 1 {
		workers = 1
	}

	queue := make(chan int)

	wg := sync.WaitGroup{}
	wg.Add(workers)

	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()

			for idx := range queue {
				res, err := worker(inputs[idx])
				results[idx] = CompletedTask[Out]{Result: res, Error: err}
			}
		}()
	}

	for i := range inputs {
		queue <- i
	}
	close(queue)

	wg.Wait()

	return results
}
