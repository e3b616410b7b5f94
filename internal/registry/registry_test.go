package registry

import (
	"fmt"
	"testing"
	"time"

	"tracker_gateway/config"
	"tracker_gateway/internal/db"
	"tracker_gateway/internal/models"
	"tracker_gateway/internal/protocol"
	"tracker_gateway/internal/store"
)

// fakeSession satisfies the Session interface without a socket
type fakeSession struct {
	imei   string
	closed bool
	codec  protocol.Codec
}

func (f *fakeSession) IMEI() string          { return f.imei }
func (f *fakeSession) RemoteAddr() string    { return "test" }
func (f *fakeSession) Write(b []byte) error  { return nil }
func (f *fakeSession) Close() error          { f.closed = true; return nil }
func (f *fakeSession) Codec() protocol.Codec { return f.codec }

func newFakeSession(imei string) *fakeSession {
	return &fakeSession{imei: imei, codec: protocol.NewGT06Codec()}
}

func TestStatusCacheTouchAndCompact(t *testing.T) {
	reg := New(nil)

	reg.TouchSeen("111")
	st, ok := reg.Status("111")
	if !ok {
		t.Fatal("Expected a cached status row after TouchSeen")
	}
	if st.ActivityCount != 1 {
		t.Errorf("Expected activity count 1, got %d", st.ActivityCount)
	}
	if time.Since(st.LastSeen) > time.Second {
		t.Error("LastSeen not refreshed")
	}

	// Age the row past the compaction threshold and sweep.
	reg.mu.Lock()
	reg.status["111"].LastActivity = time.Now().Add(-2 * compactThreshold)
	reg.mu.Unlock()
	reg.compactSweep()

	if _, ok := reg.Status("111"); ok {
		t.Error("Stale status row should have been compacted")
	}
}

func TestLookupMissing(t *testing.T) {
	reg := New(nil)
	if _, ok := reg.Lookup("nope"); ok {
		t.Error("Lookup of unknown IMEI must miss")
	}
	if reg.Count() != 0 {
		t.Errorf("Expected empty registry, got %d", reg.Count())
	}
}

// The remaining tests exercise the store-backed paths and need a
// reachable database.
func setupStore(t *testing.T) *store.Store {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Skipf("Configuration not available: %v", err)
	}
	if err := db.Initialize(&cfg.Database); err != nil {
		t.Skipf("Database not available for testing: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return store.New(db.GetDB())
}

func seedDevice(t *testing.T, st *store.Store, imei string, active bool) {
	t.Helper()
	device := &models.Device{IMEI: imei, Active: active}
	if err := db.GetDB().Create(device).Error; err != nil {
		t.Fatalf("Failed to seed device: %v", err)
	}
	t.Cleanup(func() {
		db.GetDB().Unscoped().Where("imei = ?", imei).Delete(&models.Device{})
	})
}

func TestAuthenticateUnknownDevice(t *testing.T) {
	st := setupStore(t)
	reg := New(st)

	err := reg.Authenticate(newFakeSession("000000000000000"), "000000000000000")
	if err != ErrUnknownDevice {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}
}

func TestAuthenticateInactiveDevice(t *testing.T) {
	st := setupStore(t)
	reg := New(st)

	imei := fmt.Sprintf("test%d", time.Now().UnixNano())
	seedDevice(t, st, imei, false)

	err := reg.Authenticate(newFakeSession(imei), imei)
	if err != ErrDeviceInactive {
		t.Errorf("Expected ErrDeviceInactive, got %v", err)
	}
	if _, ok := reg.Lookup(imei); ok {
		t.Error("Inactive device must not enter the registry")
	}
}

func TestAuthenticateAndDisplace(t *testing.T) {
	st := setupStore(t)
	reg := New(st)

	imei := fmt.Sprintf("test%d", time.Now().UnixNano())
	seedDevice(t, st, imei, true)

	first := newFakeSession(imei)
	if err := reg.Authenticate(first, imei); err != nil {
		t.Fatalf("First authentication failed: %v", err)
	}
	if got, _ := reg.Lookup(imei); got != Session(first) {
		t.Fatal("Registry must hold the first session")
	}

	// A second login for the same IMEI displaces the first.
	second := newFakeSession(imei)
	if err := reg.Authenticate(second, imei); err != nil {
		t.Fatalf("Second authentication failed: %v", err)
	}
	if !first.closed {
		t.Error("Displaced session must be closed")
	}
	if got, _ := reg.Lookup(imei); got != Session(second) {
		t.Error("Registry must now hold the second session")
	}

	// The displaced session's late removal must not evict the winner.
	reg.Remove(imei, first)
	if got, ok := reg.Lookup(imei); !ok || got != Session(second) {
		t.Error("Late removal by the displaced session evicted the winner")
	}

	// The winner's own removal does.
	reg.Remove(imei, second)
	if _, ok := reg.Lookup(imei); ok {
		t.Error("Registry must be empty after the owner removes itself")
	}

	device, err := st.GetDeviceByIMEI(imei)
	if err != nil {
		t.Fatalf("Device lookup failed: %v", err)
	}
	if device.Online {
		t.Error("Device must be offline after removal")
	}
}

func TestOfflineSweep(t *testing.T) {
	st := setupStore(t)
	reg := New(st)

	imei := fmt.Sprintf("test%d", time.Now().UnixNano())
	seedDevice(t, st, imei, true)

	reg.TouchHeartbeat(imei)
	reg.mu.Lock()
	reg.status[imei].LastSeen = time.Now().Add(-2 * offlineThreshold)
	reg.mu.Unlock()

	reg.offlineSweep()

	stRow, ok := reg.Status(imei)
	if !ok || stRow.Online {
		t.Error("Silent device must be swept offline in the cache")
	}
	device, err := st.GetDeviceByIMEI(imei)
	if err != nil {
		t.Fatalf("Device lookup failed: %v", err)
	}
	if device.Online {
		t.Error("Silent device must be swept offline in the store")
	}
}
