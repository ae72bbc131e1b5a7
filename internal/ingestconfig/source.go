package ingestconfig

import (
	"log"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultPollInterval mirrors config_loader.py's default 15 second
// mtime check.
const DefaultPollInterval = 15 * time.Second

// Subscriber is notified with the new Snapshot each time the backing
// file is successfully reparsed. A panicking subscriber does not
// affect others or the poll loop; Source recovers and logs. Subscribers
// run one after another on the reload goroutine, so a slow one delays
// the rest and the next reload check.
type Subscriber func(Snapshot)

// Source owns the single authoritative Snapshot for a running
// process. It polls its backing file for mtime changes on a ticker
// and, when fsnotify is available on the host, reacts to write events
// immediately instead of waiting for the next tick. Grounded on
// config_loader.py's ConfigLoader plus dunnart.go's ticker/done
// goroutine shape for the Go translation.
type Source struct {
	path         string
	pollInterval time.Duration

	mu      sync.RWMutex
	current Snapshot
	modTime time.Time

	subMu       sync.Mutex
	subscribers []Subscriber

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Load reads and parses path once, returning a Source primed with the
// initial Snapshot. Call Watch to start the background reload loop.
func Load(path string) (*Source, error) {
	s := &Source{
		path:         path,
		pollInterval: DefaultPollInterval,
		done:         make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// SetPollInterval overrides the default poll cadence. Must be called
// before Watch.
func (s *Source) SetPollInterval(d time.Duration) {
	if d > 0 {
		s.pollInterval = d
	}
}

// Current returns the latest successfully parsed Snapshot.
func (s *Source) Current() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Subscribe registers callback to be invoked after every successful
// reload, including reloads triggered by the fsnotify fast path.
func (s *Source) Subscribe(cb Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, cb)
}

// Watch starts the mtime poll ticker and, if the host filesystem
// supports it, an fsnotify watch on the config file's directory as a
// fast path. Call Close to stop both.
func (s *Source) Watch() {
	if w, err := fsnotify.NewWatcher(); err == nil {
		s.watcher = w
		if err := w.Add(dirOf(s.path)); err != nil {
			log.Printf("[CONFIG] fsnotify watch unavailable: %v", err)
			w.Close()
			s.watcher = nil
		}
	} else {
		log.Printf("[CONFIG] fsnotify unavailable, falling back to polling only: %v", err)
	}

	s.wg.Add(1)
	go s.loop()
}

// Close stops the poll loop and releases the fsnotify watcher.
func (s *Source) Close() {
	close(s.done)
	s.wg.Wait()
	if s.watcher != nil {
		s.watcher.Close()
	}
}

func (s *Source) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	var events <-chan fsnotify.Event
	if s.watcher != nil {
		events = s.watcher.Events
	}

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.checkAndReload()
		case ev, ok := <-events:
			if !ok {
				continue
			}
			if ev.Name != s.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			s.checkAndReload()
		}
	}
}

func (s *Source) checkAndReload() {
	info, err := os.Stat(s.path)
	if err != nil {
		log.Printf("[CONFIG] stat %s: %v", s.path, err)
		return
	}
	s.mu.RLock()
	unchanged := info.ModTime().Equal(s.modTime)
	s.mu.RUnlock()
	if unchanged {
		return
	}
	if err := s.reload(); err != nil {
		log.Printf("[CONFIG] reload %s failed, keeping previous snapshot: %v", s.path, err)
	}
}

// reload parses the file and, on success, atomically swaps the
// Snapshot before notifying subscribers. A parse failure leaves the
// previous Snapshot untouched, matching config_loader.py's
// last-good-config retention behavior.
func (s *Source) reload() error {
	raw, err := readFile(s.path)
	if err != nil {
		return err
	}
	snap, err := parseSnapshot(raw)
	if err != nil {
		return err
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.current = snap
	s.modTime = info.ModTime()
	s.mu.Unlock()

	s.notify(snap)
	return nil
}

func (s *Source) notify(snap Snapshot) {
	s.subMu.Lock()
	subs := append([]Subscriber(nil), s.subscribers...)
	s.subMu.Unlock()
	for _, cb := range subs {
		func(cb Subscriber) {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("[CONFIG] subscriber panic: %v", r)
				}
			}()
			cb(snap)
		}(cb)
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
