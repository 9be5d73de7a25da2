package future

import "sync"

// WaitAll returns a future that fulfills once every future in fs has
// fulfilled (ok or err). Its own fulfillment is ok unless at least one
// child fulfilled with an error, in which case it fulfills with that
// child's error (the first one observed). Get/WaitFor on the returned
// future does not itself read any child's data — callers read each
// child future directly once WaitAll's future is fulfilled.
func WaitAll(fs []*Future) *Future {
	var composite *Future
	var mu sync.Mutex
	remaining := len(fs)
	var firstErr error

	composite = Create(func(cf *Future) {
		if remaining == 0 {
			cf.Fulfill(nil)
			return
		}
		for _, child := range fs {
			child := child
			child.mu.Lock()
			r := child.r
			child.mu.Unlock()
			if r == nil {
				// Child has no reactor of its own; drive its fulfillment
				// inline via a background goroutine so composite
				// fulfillment is still reactor-scheduled.
				go func() {
					_, _ = child.Get()
					onChildDone(child, &mu, &remaining, &firstErr, composite)
				}()
				continue
			}
			child.Then(-1, func(c *Future) {
				onChildDone(c, &mu, &remaining, &firstErr, composite)
			})
		}
	})
	return composite
}

func onChildDone(child *Future, mu *sync.Mutex, remaining *int, firstErr *error, composite *Future) {
	mu.Lock()
	if _, err, ok := child.peek(); ok && err != nil && *firstErr == nil {
		*firstErr = err
	}
	*remaining--
	done := *remaining == 0
	ferr := *firstErr
	mu.Unlock()

	if !done {
		return
	}
	if ferr != nil {
		composite.FulfillError(ferr)
		return
	}
	composite.Fulfill(nil)
}

// WaitAny returns a future that fulfills as soon as the first future in fs
// fulfills, with that child's outcome (data or error).
func WaitAny(fs []*Future) *Future {
	var composite *Future
	var once sync.Once

	composite = Create(func(cf *Future) {
		for _, child := range fs {
			child := child
			child.mu.Lock()
			r := child.r
			child.mu.Unlock()
			settle := func() {
				once.Do(func() {
					data, err, _ := child.peek()
					if err != nil {
						cf.FulfillError(err)
						return
					}
					cf.Fulfill(data)
				})
			}
			if r == nil {
				go func() {
					_, _ = child.Get()
					settle()
				}()
				continue
			}
			child.Then(-1, func(*Future) { settle() })
		}
	})
	return composite
}
