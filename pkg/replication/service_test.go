package replication

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/config"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/devicestore"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

var testOwner = devicestore.OwnerIdentity{
	Handle: "alice",
	GUID:   "11111111-1111-4111-8111-111111111111",
	Phone:  "+15551230001",
}

func deviceID(prefix string) string {
	return prefix + strings.Repeat("0", 64-len(prefix))
}

// flakyRepository injects write failures for chosen devices
type flakyRepository struct {
	devicestore.StoreRepository
	failPut map[string]bool
}

func (r *flakyRepository) PutRecordSet(ctx context.Context, set devicestore.RecordSet) error {
	if r.failPut[set.Record.DeviceID] {
		return errors.New(errors.ErrCodeStoreIO, "injected write failure")
	}
	return r.StoreRepository.PutRecordSet(ctx, set)
}

func setupSync(t *testing.T) (*devicestore.StoreService, *Service, *flakyRepository) {
	t.Helper()
	repo := &flakyRepository{
		StoreRepository: devicestore.NewInMemStoreRepository(),
		failPut:         map[string]bool{},
	}
	store := devicestore.NewStoreService(repo)
	svc := NewService(store, config.SyncConfig{SyncTimeout: 10 * time.Second})
	return store, svc, repo
}

func claim(t *testing.T, store *devicestore.StoreService, id string, owner devicestore.OwnerIdentity) {
	t.Helper()
	ctx := context.Background()
	_, err := store.CreateDevice(ctx, id)
	require.NoError(t, err)
	_, err = store.Claim(ctx, id, owner)
	require.NoError(t, err)
}

func TestSyncDeviceReplicatesCredentialToSiblings(t *testing.T) {
	store, svc, _ := setupSync(t)
	ctx := context.Background()
	a := deviceID("aa")
	b := deviceID("bb")
	claim(t, store, a, testOwner)
	claim(t, store, b, testOwner)

	_, err := store.AddCredential(ctx, a, devicestore.CredentialRecord{
		CredentialID: "cred-1",
		PublicKey:    []byte{0x01, 0x02},
		OwnerGUID:    testOwner.GUID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SyncDevice(ctx, a))

	sibling, err := store.GetDevice(ctx, b)
	require.NoError(t, err)
	require.Len(t, sibling.Credentials, 1)
	assert.Equal(t, "cred-1", sibling.Credentials[0].CredentialID)

	// the sibling never takes ownership of the entry
	assert.Empty(t, sibling.UnsyncedEntries(), "pulled entries must not join the sibling change log")
}

func TestSyncDeviceMarksEntriesSynced(t *testing.T) {
	store, svc, _ := setupSync(t)
	ctx := context.Background()
	a := deviceID("aa")
	b := deviceID("bb")
	claim(t, store, a, testOwner)
	claim(t, store, b, testOwner)

	before, err := store.GetDevice(ctx, a)
	require.NoError(t, err)
	require.NotEmpty(t, before.UnsyncedEntries())

	require.NoError(t, svc.SyncDevice(ctx, a))

	after, err := store.GetDevice(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, after.UnsyncedEntries())

	require.Len(t, after.SyncStates, 1)
	assert.Equal(t, b, after.SyncStates[0].PeerDeviceID)
	assert.Equal(t, devicestore.SyncStatusOK, after.SyncStates[0].Status)
}

func TestSyncDeviceIsIdempotent(t *testing.T) {
	store, svc, _ := setupSync(t)
	ctx := context.Background()
	a := deviceID("aa")
	b := deviceID("bb")
	claim(t, store, a, testOwner)
	claim(t, store, b, testOwner)

	require.NoError(t, svc.SyncDevice(ctx, a))
	require.NoError(t, svc.SyncDevice(ctx, a))
	require.NoError(t, svc.SyncDevice(ctx, b))

	setA, err := store.GetDevice(ctx, a)
	require.NoError(t, err)
	setB, err := store.GetDevice(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, setA.Record.Owner, setB.Record.Owner)
	assert.Len(t, setA.SyncStates, 1)
	assert.Len(t, setB.SyncStates, 1)
}

func TestSyncDeviceFailedSiblingDoesNotBlockOthers(t *testing.T) {
	store, svc, repo := setupSync(t)
	ctx := context.Background()
	a := deviceID("aa")
	b := deviceID("bb")
	c := deviceID("cc")
	claim(t, store, a, testOwner)
	claim(t, store, b, testOwner)
	claim(t, store, c, testOwner)

	_, err := store.AddCredential(ctx, a, devicestore.CredentialRecord{
		CredentialID: "cred-iso",
		OwnerGUID:    testOwner.GUID,
	})
	require.NoError(t, err)

	repo.failPut[b] = true
	require.NoError(t, svc.SyncDevice(ctx, a))

	// the healthy sibling received the credential
	healthy, err := store.GetDevice(ctx, c)
	require.NoError(t, err)
	require.Len(t, healthy.Credentials, 1)

	// the origin keeps its entries unsynced and records the failure
	origin, err := store.GetDevice(ctx, a)
	require.NoError(t, err)
	assert.NotEmpty(t, origin.UnsyncedEntries())

	statusByPeer := map[string]string{}
	for _, st := range origin.SyncStates {
		statusByPeer[st.PeerDeviceID] = st.Status
	}
	assert.Equal(t, devicestore.SyncStatusFailed, statusByPeer[b])
	assert.Equal(t, devicestore.SyncStatusOK, statusByPeer[c])

	// the next pass after recovery drains the backlog
	repo.failPut[b] = false
	require.NoError(t, svc.SyncDevice(ctx, a))

	recovered, err := store.GetDevice(ctx, b)
	require.NoError(t, err)
	require.Len(t, recovered.Credentials, 1)

	origin, err = store.GetDevice(ctx, a)
	require.NoError(t, err)
	assert.Empty(t, origin.UnsyncedEntries())
}

func TestSyncConvergesConflictingIdentityEdits(t *testing.T) {
	store, svc, _ := setupSync(t)
	ctx := context.Background()
	// ids chosen so the origin tiebreak favors the dd device
	low := deviceID("aa")
	high := deviceID("dd")

	ownerV1 := testOwner
	ownerV1.Phone = "+15551230001"
	ownerV2 := testOwner
	ownerV2.Phone = "+15551239999"

	claim(t, store, low, ownerV1)
	claim(t, store, high, ownerV2)

	// concurrent edits: both claims carry clock 1, so the higher origin id
	// must win on every replica regardless of sync order
	require.NoError(t, svc.SyncDevice(ctx, low))
	require.NoError(t, svc.SyncDevice(ctx, high))

	setLow, err := store.GetDevice(ctx, low)
	require.NoError(t, err)
	setHigh, err := store.GetDevice(ctx, high)
	require.NoError(t, err)

	assert.Equal(t, ownerV2, setLow.Record.Owner)
	assert.Equal(t, ownerV2, setHigh.Record.Owner)
}

func TestSyncDeviceUnclaimedIsNoop(t *testing.T) {
	store, svc, _ := setupSync(t)
	ctx := context.Background()
	id := deviceID("ee")
	_, err := store.CreateDevice(ctx, id)
	require.NoError(t, err)

	require.NoError(t, svc.SyncDevice(ctx, id))

	set, err := store.GetDevice(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, set.SyncStates)
}

func TestSyncAllSweepsEveryDevice(t *testing.T) {
	store, svc, _ := setupSync(t)
	ctx := context.Background()
	a := deviceID("aa")
	b := deviceID("bb")
	c := deviceID("cc")
	claim(t, store, a, testOwner)
	claim(t, store, b, testOwner)
	claim(t, store, c, testOwner)

	_, err := store.AddCredential(ctx, a, devicestore.CredentialRecord{
		CredentialID: "cred-all",
		OwnerGUID:    testOwner.GUID,
	})
	require.NoError(t, err)

	require.NoError(t, svc.SyncAll(ctx))

	for _, id := range []string{a, b, c} {
		set, err := store.GetDevice(ctx, id)
		require.NoError(t, err)
		assert.Len(t, set.Credentials, 1, "device %s", id)
		assert.Empty(t, set.UnsyncedEntries(), "device %s", id)
	}
}
