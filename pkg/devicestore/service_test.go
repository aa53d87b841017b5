package devicestore

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDeviceID(seed string) string {
	return strings.Repeat("0", 64-len(seed)) + seed
}

func testIdentity() OwnerIdentity {
	return OwnerIdentity{
		Handle: "@alice",
		GUID:   "6a1c2f10-9a7e-4c11-8a44-2b9f0c7d3e55",
		Phone:  "+447700900000",
	}
}

func setupStoreService(t *testing.T) *StoreService {
	return NewStoreService(NewInMemStoreRepository())
}

func TestStoreService_CreateDevice(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("a1")

	set, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, deviceID, set.Record.DeviceID)
	assert.False(t, set.Record.Claimed())
	assert.False(t, set.Record.CreatedAt.IsZero())

	// Idempotent: creating again returns the existing record set unchanged
	again, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, set.Record.CreatedAt, again.Record.CreatedAt)
}

func TestStoreService_CreateDevice_RejectsMalformedToken(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()

	for _, token := range []string{
		"",
		"short",
		strings.Repeat("g", 64), // not hex
		strings.Repeat("A", 64), // uppercase
		strings.Repeat("0", 63), // too short
		strings.Repeat("0", 65), // too long
	} {
		_, err := service.CreateDevice(ctx, token)
		assert.Error(t, err, "token %q must be rejected", token)
	}
}

func TestStoreService_ClaimRoundTrip(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("b2")
	identity := testIdentity()

	_, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)

	before := time.Now().UTC()
	claimed, err := service.Claim(ctx, deviceID, identity)
	require.NoError(t, err)

	got, err := service.GetDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.True(t, got.Record.Claimed())
	assert.Equal(t, identity, got.Record.Owner)
	assert.WithinDuration(t, before, got.Record.LastVerifiedAt, 2*time.Second)
	assert.Equal(t, claimed.Record.LastVerifiedAt, got.Record.LastVerifiedAt)

	// The claim produced an unsynced change log entry
	entries := got.UnsyncedEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, OpUpsertIdentity, entries[0].Op.Kind)
	assert.Equal(t, deviceID, entries[0].Origin)
}

func TestStoreService_Claim_AllOrNothing(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("c3")

	_, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)

	_, err = service.Claim(ctx, deviceID, OwnerIdentity{Handle: "@alice"})
	assert.Error(t, err)

	got, err := service.GetDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.False(t, got.Record.Claimed())
	assert.True(t, got.Record.Owner.IsEmpty())
}

func TestStoreService_AddBrowserAndConfirm(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("d4")
	userAgent := "Mozilla/5.0 (Macintosh) Chrome/120.0.0.0 Safari/537.36"

	_, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)

	set, err := service.AddBrowser(ctx, deviceID, "browser-token-1", userAgent, true)
	require.NoError(t, err)
	require.Len(t, set.Browsers, 1)
	assert.True(t, set.Browsers[0].Pending)
	assert.Equal(t, "chrome", set.Browsers[0].BrowserFamily)

	// Re-adding refreshes, never duplicates
	set, err = service.AddBrowser(ctx, deviceID, "browser-token-1", userAgent, true)
	require.NoError(t, err)
	assert.Len(t, set.Browsers, 1)

	set, err = service.ConfirmPendingBrowsers(ctx, deviceID)
	require.NoError(t, err)
	assert.False(t, set.Browsers[0].Pending)
	assert.Equal(t, 1, set.ConfirmedBrowserCount())
}

func TestStoreService_RecordAccess(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("e5")

	_, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)

	require.NoError(t, service.RecordAccess(ctx, deviceID, "203.0.113.9", "ua"))
	require.NoError(t, service.RecordAccess(ctx, deviceID, "203.0.113.9", "ua"))

	set, err := service.GetDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Len(t, set.AccessLog, 2)
	assert.True(t, set.HasAccessFromIP("203.0.113.9"))
	assert.False(t, set.HasAccessFromIP("198.51.100.1"))
}

func TestStoreService_ResetDevice(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("f6")

	_, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)
	_, err = service.Claim(ctx, deviceID, testIdentity())
	require.NoError(t, err)
	_, err = service.AddBrowser(ctx, deviceID, "browser-token-1", "ua", false)
	require.NoError(t, err)
	require.NoError(t, service.RecordAccess(ctx, deviceID, "203.0.113.9", "ua"))

	set, err := service.ResetDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, deviceID, set.Record.DeviceID)
	assert.True(t, set.Record.Owner.IsEmpty())
	assert.Empty(t, set.Browsers)
	assert.Empty(t, set.ChangeLog)
	// Access history survives a reset
	assert.Len(t, set.AccessLog, 1)

	// The owner index no longer resolves the reset device
	ids, err := service.Repository().FindDeviceIDsByOwner(ctx, ByHandle("@alice"))
	require.NoError(t, err)
	assert.NotContains(t, ids, deviceID)
}

func TestStoreService_FindDevicesByOwner(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	identity := testIdentity()

	deviceA := testDeviceID("aa")
	deviceB := testDeviceID("bb")
	for _, id := range []string{deviceA, deviceB} {
		_, err := service.CreateDevice(ctx, id)
		require.NoError(t, err)
		_, err = service.Claim(ctx, id, identity)
		require.NoError(t, err)
	}

	byHandle, err := service.FindDevicesByOwner(ctx, ByHandle(identity.Handle))
	require.NoError(t, err)
	assert.Len(t, byHandle, 2)

	byPhone, err := service.FindDevicesByOwner(ctx, ByPhone(identity.Phone))
	require.NoError(t, err)
	assert.Len(t, byPhone, 2)

	records, err := service.ListOwnerDevices(ctx, identity.Handle)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestStoreService_ConcurrentMutationsSameDevice(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("1234")

	_, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)

	const writers = 16
	var wg sync.WaitGroup
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func() {
			defer wg.Done()
			_ = service.RecordAccess(ctx, deviceID, "203.0.113.9", "ua")
		}()
	}
	wg.Wait()

	set, err := service.GetDevice(ctx, deviceID)
	require.NoError(t, err)
	// Serialized read-modify-write loses no appends
	assert.Len(t, set.AccessLog, writers)
}

func TestStoreService_UpdateAbandonedOnCancelledContext(t *testing.T) {
	service := setupStoreService(t)
	ctx := context.Background()
	deviceID := testDeviceID("9999")

	_, err := service.CreateDevice(ctx, deviceID)
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	_, err = service.Update(cancelled, deviceID, func(set *RecordSet) error {
		set.Record.DisplayName = "should not persist"
		cancel()
		return nil
	})
	assert.Error(t, err)

	set, err := service.GetDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Empty(t, set.Record.DisplayName)
}
