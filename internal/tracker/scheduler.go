package tracker

import (
	"sync"
	"time"
)

// Scheduler drives the tracker's frame callback. Start may be called at
// most once per Stop; Stop is synchronous and guarantees no further
// frames after it returns.
type Scheduler interface {
	Start(frame func())
	Stop()
}

// TickerScheduler runs frames on a fixed wall-clock interval.
type TickerScheduler struct {
	interval time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewTickerScheduler creates a scheduler ticking every interval. Zero
// picks roughly a display refresh cadence.
func NewTickerScheduler(interval time.Duration) *TickerScheduler {
	if interval <= 0 {
		interval = 16 * time.Millisecond
	}
	return &TickerScheduler{interval: interval}
}

func (s *TickerScheduler) Start(frame func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	s.stop = stop
	s.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				frame()
			}
		}
	}()
}

func (s *TickerScheduler) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// ManualScheduler fires frames only when Tick is called. It exists for
// deterministic tests.
type ManualScheduler struct {
	mu    sync.Mutex
	frame func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

func (s *ManualScheduler) Start(frame func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = frame
}

func (s *ManualScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frame = nil
}

// Tick runs one frame if the scheduler is started.
func (s *ManualScheduler) Tick() {
	s.mu.Lock()
	frame := s.frame
	s.mu.Unlock()
	if frame != nil {
		frame()
	}
}
