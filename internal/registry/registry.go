package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"tracker_gateway/internal/protocol"
	"tracker_gateway/internal/store"
	"tracker_gateway/pkg/colors"
)

// Authentication failures
var (
	ErrUnknownDevice  = errors.New("registry: unknown device")
	ErrDeviceInactive = errors.New("registry: device is not active")
)

// Session is the registry's view of a live connection. The session
// owns its socket; the registry only holds the handle, which breaks
// the session<->registry reference cycle.
type Session interface {
	IMEI() string
	RemoteAddr() string
	Write(b []byte) error
	Close() error
	Codec() protocol.Codec
}

// DeviceStatus is the cached per-IMEI activity row maintained
// alongside the store.
type DeviceStatus struct {
	Online        bool
	LastSeen      time.Time
	LastHeartbeat time.Time
	LastLogin     time.Time
	LastActivity  time.Time
	ActivityCount uint64
}

// Sweep intervals and thresholds
const (
	offlineSweepInterval = 60 * time.Second
	offlineThreshold     = 300 * time.Second
	compactInterval      = 600 * time.Second
	compactThreshold     = 3600 * time.Second
)

// Registry maps authenticated IMEIs to their live sessions. All map
// access is mutex-guarded; store calls never happen under the lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]Session
	status   map[string]*DeviceStatus

	store *store.Store
	stop  chan struct{}
	once  sync.Once
}

// New creates an empty registry over the given store
func New(st *store.Store) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		status:   make(map[string]*DeviceStatus),
		store:    st,
		stop:     make(chan struct{}),
	}
}

// Authenticate validates the IMEI against the device store and
// installs the session. A second session for the same IMEI displaces
// the first: the older socket is closed.
func (r *Registry) Authenticate(sess Session, imei string) error {
	device, err := r.store.GetDeviceByIMEI(imei)
	if err != nil {
		if errors.Is(err, store.ErrDeviceNotFound) {
			return ErrUnknownDevice
		}
		return fmt.Errorf("registry: device lookup failed: %w", err)
	}
	if !device.Active {
		return ErrDeviceInactive
	}

	now := time.Now()

	r.mu.Lock()
	displaced := r.sessions[imei]
	r.sessions[imei] = sess
	st := r.statusLocked(imei)
	st.Online = true
	st.LastSeen = now
	st.LastLogin = now
	st.LastActivity = now
	st.ActivityCount++
	r.mu.Unlock()

	if displaced != nil && displaced != sess {
		colors.PrintWarning("Displacing older session for %s (%s)", imei, displaced.RemoteAddr())
		_ = displaced.Close()
	}

	if err := r.store.TouchLogin(imei); err != nil {
		colors.PrintError("Failed to persist login for %s: %v", imei, err)
	}
	return nil
}

// Remove drops the session for an IMEI, but only when the caller still
// owns the slot; a displaced session closing late must not evict its
// replacement. The device is marked offline in the store.
func (r *Registry) Remove(imei string, sess Session) {
	r.mu.Lock()
	current, ok := r.sessions[imei]
	if !ok || current != sess {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, imei)
	if st, ok := r.status[imei]; ok {
		st.Online = false
		st.LastActivity = time.Now()
	}
	r.mu.Unlock()

	if err := r.store.SetOnline(imei, false); err != nil {
		colors.PrintError("Failed to mark %s offline: %v", imei, err)
	}
}

// Lookup returns the live session for an IMEI, if any
func (r *Registry) Lookup(imei string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[imei]
	return sess, ok
}

// MarkOffline flips the cached and stored online flags without
// touching the session map. The cached last-seen clock is kept.
func (r *Registry) MarkOffline(imei string) {
	r.mu.Lock()
	if st, ok := r.status[imei]; ok {
		st.Online = false
	}
	r.mu.Unlock()

	if err := r.store.SetOnline(imei, false); err != nil {
		colors.PrintError("Failed to mark %s offline: %v", imei, err)
	}
}

// TouchHeartbeat records heartbeat activity for an online device
func (r *Registry) TouchHeartbeat(imei string) {
	now := time.Now()
	r.mu.Lock()
	st := r.statusLocked(imei)
	st.Online = true
	st.LastSeen = now
	st.LastHeartbeat = now
	st.LastActivity = now
	st.ActivityCount++
	r.mu.Unlock()

	if err := r.store.TouchHeartbeat(imei); err != nil {
		colors.PrintError("Failed to persist heartbeat for %s: %v", imei, err)
	}
}

// TouchLogin records login activity for an online device
func (r *Registry) TouchLogin(imei string) {
	now := time.Now()
	r.mu.Lock()
	st := r.statusLocked(imei)
	st.Online = true
	st.LastSeen = now
	st.LastLogin = now
	st.LastActivity = now
	st.ActivityCount++
	r.mu.Unlock()

	if err := r.store.TouchLogin(imei); err != nil {
		colors.PrintError("Failed to persist login for %s: %v", imei, err)
	}
}

// TouchSeen bumps the activity clock for any inbound frame
func (r *Registry) TouchSeen(imei string) {
	now := time.Now()
	r.mu.Lock()
	st := r.statusLocked(imei)
	st.LastSeen = now
	st.LastActivity = now
	st.ActivityCount++
	r.mu.Unlock()
}

// Status returns a copy of the cached status row for an IMEI
func (r *Registry) Status(imei string) (DeviceStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.status[imei]
	if !ok {
		return DeviceStatus{}, false
	}
	return *st, true
}

// ActiveIMEIs lists the IMEIs with live sessions
func (r *Registry) ActiveIMEIs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	imeis := make([]string, 0, len(r.sessions))
	for imei := range r.sessions {
		imeis = append(imeis, imei)
	}
	return imeis
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// statusLocked fetches or creates the status row; callers hold r.mu.
func (r *Registry) statusLocked(imei string) *DeviceStatus {
	st, ok := r.status[imei]
	if !ok {
		st = &DeviceStatus{}
		r.status[imei] = st
	}
	return st
}

// StartSweeps launches the periodic offline sweep and cache
// compaction goroutines. Stop ends them.
func (r *Registry) StartSweeps() {
	go r.sweepLoop(offlineSweepInterval, r.offlineSweep)
	go r.sweepLoop(compactInterval, r.compactSweep)
}

// Stop terminates the sweep goroutines
func (r *Registry) Stop() {
	r.once.Do(func() { close(r.stop) })
}

func (r *Registry) sweepLoop(interval time.Duration, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			fn()
		}
	}
}

// offlineSweep marks devices offline when they have been silent past
// the threshold.
func (r *Registry) offlineSweep() {
	now := time.Now()

	r.mu.Lock()
	var stale []string
	for imei, st := range r.status {
		if st.Online && now.Sub(st.LastSeen) > offlineThreshold {
			st.Online = false
			stale = append(stale, imei)
		}
	}
	r.mu.Unlock()

	for _, imei := range stale {
		colors.PrintInfo("Device %s silent for over %s, marking offline", imei, offlineThreshold)
		if err := r.store.SetOnline(imei, false); err != nil {
			colors.PrintError("Offline sweep failed for %s: %v", imei, err)
		}
	}
}

// compactSweep drops cached status rows idle past the threshold
func (r *Registry) compactSweep() {
	now := time.Now()

	r.mu.Lock()
	dropped := 0
	for imei, st := range r.status {
		if now.Sub(st.LastActivity) > compactThreshold {
			delete(r.status, imei)
			dropped++
		}
	}
	r.mu.Unlock()

	if dropped > 0 {
		colors.PrintDebug("Status cache compaction dropped %d rows", dropped)
	}
}
