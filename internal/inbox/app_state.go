package inbox

import "sync"

// ForegroundState reports whether the recipient's app is in the foreground.
type ForegroundState interface {
	IsForeground() bool
}

// AppState tracks the foreground status of one recipient's app. The zero
// status is background. Foreground holds are counted so several sources (an
// explicit app-state report, open streams) can keep the app foregrounded.
type AppState struct {
	mu        sync.Mutex
	reported  bool
	holds     int
	listeners map[int]chan bool
	nextID    int
}

// NewAppState returns a tracker in the background state.
func NewAppState() *AppState {
	return &AppState{listeners: make(map[int]chan bool)}
}

// Set records the state reported by the client.
func (a *AppState) Set(foreground bool) {
	a.mu.Lock()
	before := a.foregroundLocked()
	a.reported = foreground
	a.notifyLocked(before)
	a.mu.Unlock()
}

// Hold marks the app foregrounded until the returned release is called.
// Release is idempotent.
func (a *AppState) Hold() (release func()) {
	a.mu.Lock()
	before := a.foregroundLocked()
	a.holds++
	a.notifyLocked(before)
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			before := a.foregroundLocked()
			a.holds--
			a.notifyLocked(before)
			a.mu.Unlock()
		})
	}
}

func (a *AppState) IsForeground() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.foregroundLocked()
}

// Subscribe delivers every foreground change. The channel keeps only the
// latest value; cancel stops delivery and closes it.
func (a *AppState) Subscribe() (<-chan bool, func()) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := a.nextID
	a.nextID++
	ch := make(chan bool, 1)
	a.listeners[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			a.mu.Lock()
			defer a.mu.Unlock()
			if l, ok := a.listeners[id]; ok {
				delete(a.listeners, id)
				close(l)
			}
		})
	}
	return ch, cancel
}

func (a *AppState) foregroundLocked() bool {
	return a.reported || a.holds > 0
}

func (a *AppState) notifyLocked(before bool) {
	now := a.foregroundLocked()
	if now == before {
		return
	}
	for _, ch := range a.listeners {
		select {
		case <-ch:
		default:
		}
		ch <- now
	}
}
