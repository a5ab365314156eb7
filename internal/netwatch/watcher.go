package netwatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pompierapp/firequiz/config"
	"github.com/pompierapp/firequiz/log"
)

// Prober answers one connectivity question: can the backend be reached
// right now. The production prober hits the remote health endpoint.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a plain function to the Prober interface.
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Watcher polls the prober and tracks the online/offline state. State
// transitions are pushed to the registered listeners, which is how the
// cache learns it must serve stale data or start refetching.
type Watcher struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration

	// Whether the backend was reachable at the last probe.
	online atomic.Bool

	mu        sync.Mutex
	listeners []func(online bool)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a watcher over the prober. The watcher starts optimistic,
// assuming connectivity until the first probe says otherwise.
func New(cfg config.HeartbeatConfig, prober Prober) *Watcher {
	w := &Watcher{
		prober:   prober,
		interval: time.Duration(cfg.Interval),
		timeout:  time.Duration(cfg.Timeout),
		stopCh:   make(chan struct{}),
	}
	w.online.Store(true)
	return w
}

// Online reports the state observed by the last probe.
func (w *Watcher) Online() bool {
	return w.online.Load()
}

// OnChange registers a listener invoked on every online/offline
// transition. Listeners run synchronously on the probing goroutine, so
// they must not block.
func (w *Watcher) OnChange(fn func(online bool)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Start runs the probing loop until Stop is called.
func (w *Watcher) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		for {
			w.probe(ctx)
			select {
			case <-w.stopCh:
				return
			case <-time.After(w.interval):
			}
		}
	}()
}

// Stop terminates the probing loop and waits for it to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	w.wg.Wait()
}

func (w *Watcher) probe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	err := w.prober.Probe(ctx)
	online := err == nil
	if err != nil {
		log.Debugf("connectivity probe failed: %s", err)
	}

	reportOnlineMetric(online)
	if w.online.Swap(online) == online {
		return
	}

	log.Infof("connectivity changed: online=%v", online)
	w.mu.Lock()
	listeners := append([]func(bool){}, w.listeners...)
	w.mu.Unlock()
	for _, fn := range listeners {
		fn(online)
	}
}
