package test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hrygo/assessment/internal/profile"
	"github.com/hrygo/assessment/store"
	"github.com/hrygo/assessment/store/db"
)

// NewTestingProfile returns a dev profile backed by a sqlite file in a temp dir.
func NewTestingProfile(t *testing.T) *profile.Profile {
	t.Helper()
	dir := t.TempDir()
	return &profile.Profile{
		Mode:              "dev",
		Data:              dir,
		Driver:            "sqlite",
		DSN:               filepath.Join(dir, "assessment_test.db"),
		ExtractionTimeout: time.Second,
		TurnTimeout:       5 * time.Second,
		PersistAttempts:   3,
		PersistBackoff:    time.Millisecond,
		CacheCapacity:     100,
		CacheTTL:          time.Minute,
	}
}

// NewTestingStore opens and migrates a fresh store.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	return NewTestingStoreWithDriver(ctx, t, nil)
}

// NewTestingStoreWithDriver opens a fresh store whose driver is passed through wrap
// for fault injection. A nil wrap uses the driver as is.
func NewTestingStoreWithDriver(ctx context.Context, t *testing.T, wrap func(store.Driver) store.Driver) *store.Store {
	t.Helper()
	prof := NewTestingProfile(t)
	driver, err := db.NewDBDriver(prof)
	require.NoError(t, err)
	if wrap != nil {
		driver = wrap(driver)
	}

	ts := store.New(driver, prof)
	require.NoError(t, ts.Migrate(ctx))
	t.Cleanup(func() {
		_ = ts.Close()
	})
	return ts
}

// FaultDriver wraps a Driver and injects errors into selected calls.
type FaultDriver struct {
	store.Driver

	mu         sync.Mutex
	updateErrs []error
	getErrs    []error
	transient  map[error]bool

	updateCalls int
	getCalls    int
}

func NewFaultDriver(driver store.Driver) *FaultDriver {
	return &FaultDriver{Driver: driver, transient: map[error]bool{}}
}

// FailUpdates queues errs for upcoming UpdateSession calls.
func (d *FaultDriver) FailUpdates(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.updateErrs = append(d.updateErrs, errs...)
}

// FailGets queues errs for upcoming GetSession calls.
func (d *FaultDriver) FailGets(errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.getErrs = append(d.getErrs, errs...)
}

// MarkTransient makes IsTransient report err as retryable.
func (d *FaultDriver) MarkTransient(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.transient[err] = true
}

func (d *FaultDriver) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	d.mu.Lock()
	d.updateCalls++
	var injected error
	if len(d.updateErrs) > 0 {
		injected, d.updateErrs = d.updateErrs[0], d.updateErrs[1:]
	}
	d.mu.Unlock()
	if injected != nil {
		return nil, injected
	}
	return d.Driver.UpdateSession(ctx, update)
}

func (d *FaultDriver) GetSession(ctx context.Context, id string) (*store.Session, error) {
	d.mu.Lock()
	d.getCalls++
	var injected error
	if len(d.getErrs) > 0 {
		injected, d.getErrs = d.getErrs[0], d.getErrs[1:]
	}
	d.mu.Unlock()
	if injected != nil {
		return nil, injected
	}
	return d.Driver.GetSession(ctx, id)
}

func (d *FaultDriver) IsTransient(err error) bool {
	d.mu.Lock()
	transient := d.transient[err]
	d.mu.Unlock()
	return transient || d.Driver.IsTransient(err)
}

// Calls returns the number of UpdateSession and GetSession calls seen.
func (d *FaultDriver) Calls() (updates, gets int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.updateCalls, d.getCalls
}
