package license_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kiranshivaraju/keyserver/internal/license"
	"github.com/kiranshivaraju/keyserver/internal/metrics"
	"github.com/kiranshivaraju/keyserver/internal/store"
	"github.com/kiranshivaraju/keyserver/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fake clock ---

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// --- store wrapper with failure hooks ---

type hookStore struct {
	*store.MemoryStore
	createErrs   []error
	getErr       error
	beforeRecord func()
	recordErr    error
}

func (h *hookStore) CreateLicense(ctx context.Context, l *models.License) error {
	if len(h.createErrs) > 0 {
		err := h.createErrs[0]
		h.createErrs = h.createErrs[1:]
		if err != nil {
			return err
		}
	}
	return h.MemoryStore.CreateLicense(ctx, l)
}

func (h *hookStore) GetLicense(ctx context.Context, key string) (*models.License, error) {
	if h.getErr != nil {
		return nil, h.getErr
	}
	return h.MemoryStore.GetLicense(ctx, key)
}

func (h *hookStore) RecordUsage(ctx context.Context, key string, at time.Time) error {
	if h.beforeRecord != nil {
		h.beforeRecord()
	}
	if h.recordErr != nil {
		return h.recordErr
	}
	return h.MemoryStore.RecordUsage(ctx, key, at)
}

// --- helpers ---

func newRegistry(t *testing.T) (*license.Registry, *store.MemoryStore, *fakeClock) {
	t.Helper()
	s := store.NewMemoryStore()
	clock := newFakeClock()
	return license.NewRegistry(s, license.WithClock(clock.Now)), s, clock
}

func ptrTime(t time.Time) *time.Time { return &t }
func ptrString(s string) *string     { return &s }

func mustGet(t *testing.T, s store.Store, key string) *models.License {
	t.Helper()
	l, err := s.GetLicense(context.Background(), key)
	require.NoError(t, err)
	return l
}

// ========================================
// Create
// ========================================

func TestCreate_Defaults(t *testing.T) {
	reg, s, clock := newRegistry(t)

	l, err := reg.Create(context.Background(), license.CreateParams{})
	require.NoError(t, err)

	assert.True(t, license.ValidKeyFormat(l.Key))
	assert.True(t, l.Active)
	assert.Equal(t, clock.Now(), l.CreatedAt)
	assert.Nil(t, l.ExpiresAt)
	assert.Nil(t, l.LastUsedAt)
	assert.Zero(t, l.UsageCount)
	assert.Nil(t, l.Notes)

	stored := mustGet(t, s, l.Key)
	assert.Equal(t, l, stored)
}

func TestCreate_WithExpiryAndNotes(t *testing.T) {
	reg, _, clock := newRegistry(t)
	exp := clock.Now().Add(48 * time.Hour)

	l, err := reg.Create(context.Background(), license.CreateParams{
		ExpiresAt: &exp,
		Notes:     ptrString("customer: acme"),
	})
	require.NoError(t, err)

	require.NotNil(t, l.ExpiresAt)
	assert.True(t, exp.Equal(*l.ExpiresAt))
	require.NotNil(t, l.Notes)
	assert.Equal(t, "customer: acme", *l.Notes)
}

func TestCreate_RetriesOnDuplicateKey(t *testing.T) {
	hs := &hookStore{
		MemoryStore: store.NewMemoryStore(),
		createErrs:  []error{store.ErrDuplicateKey, store.ErrDuplicateKey},
	}
	reg := license.NewRegistry(hs, license.WithKeyAttempts(3))

	l, err := reg.Create(context.Background(), license.CreateParams{})
	require.NoError(t, err)
	mustGet(t, hs, l.Key)
}

func TestCreate_GivesUpAfterAttempts(t *testing.T) {
	hs := &hookStore{
		MemoryStore: store.NewMemoryStore(),
		createErrs:  []error{store.ErrDuplicateKey, store.ErrDuplicateKey},
	}
	reg := license.NewRegistry(hs, license.WithKeyAttempts(2))

	_, err := reg.Create(context.Background(), license.CreateParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestCreate_StorageFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	hs := &hookStore{MemoryStore: store.NewMemoryStore(), createErrs: []error{boom}}
	reg := license.NewRegistry(hs)

	_, err := reg.Create(context.Background(), license.CreateParams{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestCreate_DeterministicKeyFromSource(t *testing.T) {
	src := bytes.NewReader([]byte{0x00, 0x01, 0x02, 0x03, 0x04, 0x05})
	reg := license.NewRegistry(store.NewMemoryStore(), license.WithRandom(src))

	l, err := reg.Create(context.Background(), license.CreateParams{})
	require.NoError(t, err)
	assert.Equal(t, "0001-0203-0405", l.Key)
}

// ========================================
// Validate
// ========================================

func TestValidate_FreshLicense(t *testing.T) {
	reg, s, clock := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	assert.Equal(t, "ok", res.Message())

	stored := mustGet(t, s, l.Key)
	assert.Equal(t, int64(1), stored.UsageCount)
	require.NotNil(t, stored.LastUsedAt)
	assert.Equal(t, clock.Now(), *stored.LastUsedAt)
}

func TestValidate_UnknownKey(t *testing.T) {
	reg, s, _ := newRegistry(t)
	ctx := context.Background()
	existing, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	res, err := reg.Validate(ctx, "0000-0000-0000")
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, license.ReasonNotFound, res.Reason)
	assert.Equal(t, "license not found", res.Message())

	assert.Zero(t, mustGet(t, s, existing.Key).UsageCount)
}

func TestValidate_EmptyKey(t *testing.T) {
	reg, _, _ := newRegistry(t)

	_, err := reg.Validate(context.Background(), "   ")
	assert.ErrorIs(t, err, license.ErrInvalidInput)
}

func TestValidate_RevokedTakesPrecedenceOverExpired(t *testing.T) {
	reg, s, clock := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{ExpiresAt: ptrTime(clock.Now().Add(-time.Hour))})
	require.NoError(t, err)
	require.NoError(t, reg.Revoke(ctx, l.Key))

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, license.ReasonRevoked, res.Reason)
	assert.Zero(t, mustGet(t, s, l.Key).UsageCount)
}

func TestValidate_ExpiresAfterClockPasses(t *testing.T) {
	reg, s, clock := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{ExpiresAt: ptrTime(clock.Now().Add(time.Hour))})
	require.NoError(t, err)

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.True(t, res.Valid)
	require.NotNil(t, res.ExpiresAt)

	clock.Advance(2 * time.Hour)

	res, err = reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, license.ReasonExpired, res.Reason)

	stored := mustGet(t, s, l.Key)
	assert.Equal(t, int64(1), stored.UsageCount)
	assert.True(t, stored.Active)
}

func TestValidate_ExpiryBoundaryIsStillValid(t *testing.T) {
	reg, _, clock := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{ExpiresAt: ptrTime(clock.Now().Add(time.Minute))})
	require.NoError(t, err)

	clock.Advance(time.Minute)

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidate_CreatedAlreadyExpired(t *testing.T) {
	reg, _, clock := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{ExpiresAt: ptrTime(clock.Now().Add(-time.Hour))})
	require.NoError(t, err)

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, license.ReasonExpired, res.Reason)
	assert.Equal(t, "license expired", res.Message())
}

func TestValidate_NoExpiryNeverExpires(t *testing.T) {
	reg, s, clock := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		clock.Advance(365 * 24 * time.Hour)
		res, err := reg.Validate(ctx, l.Key)
		require.NoError(t, err)
		assert.True(t, res.Valid)
	}
	assert.Equal(t, int64(5), mustGet(t, s, l.Key).UsageCount)
}

func TestValidate_ReactivatedLicenseIsValid(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	require.NoError(t, reg.Revoke(ctx, l.Key))
	require.NoError(t, reg.Activate(ctx, l.Key))

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.True(t, res.Valid)
}

func TestValidate_ConcurrentIncrementsAreExact(t *testing.T) {
	reg, s, _ := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := reg.Validate(ctx, l.Key)
			if err != nil {
				errs <- err
				return
			}
			if !res.Valid {
				errs <- errors.New("unexpected invalid verdict: " + string(res.Reason))
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.Equal(t, int64(n), mustGet(t, s, l.Key).UsageCount)
}

func TestValidate_RevokeRacingUsageIsNotCounted(t *testing.T) {
	hs := &hookStore{MemoryStore: store.NewMemoryStore()}
	reg := license.NewRegistry(hs)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	hs.beforeRecord = func() {
		require.NoError(t, hs.MemoryStore.SetActive(ctx, l.Key, false))
	}

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, license.ReasonRevoked, res.Reason)
	assert.Zero(t, mustGet(t, hs, l.Key).UsageCount)
}

func TestValidate_DeleteRacingUsageReportsNotFound(t *testing.T) {
	hs := &hookStore{MemoryStore: store.NewMemoryStore()}
	reg := license.NewRegistry(hs)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	hs.beforeRecord = func() {
		require.NoError(t, hs.MemoryStore.DeleteLicense(ctx, l.Key))
	}

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, license.ReasonNotFound, res.Reason)
}

func TestValidate_PersistentConflictIsAnError(t *testing.T) {
	hs := &hookStore{MemoryStore: store.NewMemoryStore(), recordErr: store.ErrNotFound}
	reg := license.NewRegistry(hs)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	_, err = reg.Validate(ctx, l.Key)
	assert.ErrorIs(t, err, license.ErrConcurrentUpdate)
}

func TestValidate_StorageFailure(t *testing.T) {
	boom := errors.New("connection reset")
	hs := &hookStore{MemoryStore: store.NewMemoryStore(), getErr: boom}
	reg := license.NewRegistry(hs)

	_, err := reg.Validate(context.Background(), "ABCD-ABCD-ABCD")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestValidate_RecordsMetrics(t *testing.T) {
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)
	s := store.NewMemoryStore()
	reg := license.NewRegistry(s, license.WithMetrics(m))
	ctx := context.Background()

	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)
	_, err = reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	_, err = reg.Validate(ctx, "0000-0000-0000")
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(promReg, "keyserver_license_validations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

// ========================================
// Admin operations
// ========================================

func TestRevoke_Idempotent(t *testing.T) {
	reg, s, _ := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	require.NoError(t, reg.Revoke(ctx, l.Key))
	assert.False(t, mustGet(t, s, l.Key).Active)

	require.NoError(t, reg.Revoke(ctx, l.Key))
	assert.False(t, mustGet(t, s, l.Key).Active)
}

func TestActivate_Idempotent(t *testing.T) {
	reg, s, _ := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)

	require.NoError(t, reg.Activate(ctx, l.Key))
	assert.True(t, mustGet(t, s, l.Key).Active)
}

func TestAdminOps_NotFound(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()

	assert.ErrorIs(t, reg.Revoke(ctx, "AAAA-BBBB-CCCC"), license.ErrNotFound)
	assert.ErrorIs(t, reg.Activate(ctx, "AAAA-BBBB-CCCC"), license.ErrNotFound)
	assert.ErrorIs(t, reg.Delete(ctx, "AAAA-BBBB-CCCC"), license.ErrNotFound)

	_, err := reg.Get(ctx, "AAAA-BBBB-CCCC")
	assert.ErrorIs(t, err, license.ErrNotFound)
}

func TestDelete_ThenValidateIsNotFound(t *testing.T) {
	reg, _, _ := newRegistry(t)
	ctx := context.Background()
	l, err := reg.Create(ctx, license.CreateParams{})
	require.NoError(t, err)
	require.NoError(t, reg.Revoke(ctx, l.Key))

	require.NoError(t, reg.Delete(ctx, l.Key))

	res, err := reg.Validate(ctx, l.Key)
	require.NoError(t, err)
	assert.Equal(t, license.ReasonNotFound, res.Reason)

	assert.ErrorIs(t, reg.Delete(ctx, l.Key), license.ErrNotFound)
}

func TestList_NewestFirst(t *testing.T) {
	reg, _, clock := newRegistry(t)
	ctx := context.Background()

	var keys []string
	for i := 0; i < 3; i++ {
		l, err := reg.Create(ctx, license.CreateParams{})
		require.NoError(t, err)
		keys = append(keys, l.Key)
		clock.Advance(time.Minute)
	}

	list, err := reg.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, keys[2], list[0].Key)
	assert.Equal(t, keys[1], list[1].Key)
	assert.Equal(t, keys[0], list[2].Key)
}

func TestList_Empty(t *testing.T) {
	reg, _, _ := newRegistry(t)

	list, err := reg.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestValidate_MalformedKeySkipsStore(t *testing.T) {
	boom := errors.New("store must not be reached")
	hs := &hookStore{MemoryStore: store.NewMemoryStore(), getErr: boom}
	reg := license.NewRegistry(hs)

	for _, key := range []string{"abcd-0123-ffff", "not-a-key", "ABCD-0123-FFFF-0000"} {
		res, err := reg.Validate(context.Background(), key)
		require.NoError(t, err, key)
		assert.False(t, res.Valid)
		assert.Equal(t, license.ReasonNotFound, res.Reason)
	}
}
