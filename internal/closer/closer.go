package closer

import (
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	mu      sync.Mutex
	once    sync.Once
	done    = make(chan struct{})
	closers []func() error
)

// Add registers a cleanup function to run at shutdown, in registration order.
func Add(closer func() error) {
	mu.Lock()
	defer mu.Unlock()
	closers = append(closers, closer)
}

// CloseAll runs every registered closer exactly once. Errors are logged,
// not returned: shutdown keeps going past a failing closer.
func CloseAll() {
	once.Do(func() {
		mu.Lock()
		funcs := closers
		closers = nil
		mu.Unlock()

		for _, f := range funcs {
			if err := f(); err != nil {
				log.Error().Err(err).Msg("closer failed")
			}
		}
		close(done)
	})
}

// Wait blocks until CloseAll has completed.
func Wait() {
	<-done
}
