package devicestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

func setupFileRepository(t *testing.T) (*FileStoreRepository, string) {
	dataDir := t.TempDir()
	repo, err := NewFileStoreRepository(dataDir)
	require.NoError(t, err)
	return repo, dataDir
}

func TestFileStoreRepository_CreateAndGet(t *testing.T) {
	repo, dataDir := setupFileRepository(t)
	ctx := context.Background()
	deviceID := testDeviceID("a1")

	created, err := repo.CreateDevice(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, deviceID, created.Record.DeviceID)

	// One JSON document per device
	_, err = os.Stat(filepath.Join(dataDir, "devices", deviceID+".json"))
	require.NoError(t, err)

	got, err := repo.GetRecordSet(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, created.Record.DeviceID, got.Record.DeviceID)

	_, err = repo.GetRecordSet(ctx, testDeviceID("ff"))
	assert.Error(t, err)
}

func TestFileStoreRepository_SurvivesReopen(t *testing.T) {
	repo, dataDir := setupFileRepository(t)
	ctx := context.Background()
	deviceID := testDeviceID("b2")
	identity := testIdentity()

	set, err := repo.CreateDevice(ctx, deviceID)
	require.NoError(t, err)
	set.Record.Owner = identity
	require.NoError(t, repo.PutRecordSet(ctx, set))

	reopened, err := NewFileStoreRepository(dataDir)
	require.NoError(t, err)

	got, err := reopened.GetRecordSet(ctx, deviceID)
	require.NoError(t, err)
	assert.Equal(t, identity, got.Record.Owner)

	// The owner index was persisted, not rebuilt by scanning
	ids, err := reopened.FindDeviceIDsByOwner(ctx, ByHandle(identity.Handle))
	require.NoError(t, err)
	assert.Equal(t, []string{deviceID}, ids)
}

func TestFileStoreRepository_OwnerIndexFollowsIdentity(t *testing.T) {
	repo, _ := setupFileRepository(t)
	ctx := context.Background()
	deviceID := testDeviceID("c3")
	identity := testIdentity()

	set, err := repo.CreateDevice(ctx, deviceID)
	require.NoError(t, err)
	set.Record.Owner = identity
	require.NoError(t, repo.PutRecordSet(ctx, set))

	ids, err := repo.FindDeviceIDsByOwner(ctx, ByGUID(identity.GUID))
	require.NoError(t, err)
	assert.Contains(t, ids, deviceID)

	// Clearing the identity removes the index entries
	set.Record.Owner = OwnerIdentity{}
	require.NoError(t, repo.PutRecordSet(ctx, set))

	ids, err = repo.FindDeviceIDsByOwner(ctx, ByGUID(identity.GUID))
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFileStoreRepository_CorruptRecordSetIsStoreIO(t *testing.T) {
	repo, dataDir := setupFileRepository(t)
	ctx := context.Background()
	deviceID := testDeviceID("d4")

	_, err := repo.CreateDevice(ctx, deviceID)
	require.NoError(t, err)

	path := filepath.Join(dataDir, "devices", deviceID+".json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err = repo.GetRecordSet(ctx, deviceID)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreIO))
}

func TestFileStoreRepository_RejectsNewerSchema(t *testing.T) {
	dataDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "devices"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "meta.json"),
		[]byte(`{"schema_version": 99}`), 0644))

	_, err := NewFileStoreRepository(dataDir)
	assert.Error(t, err)
}

func TestFileStoreRepository_ListAndDelete(t *testing.T) {
	repo, _ := setupFileRepository(t)
	ctx := context.Background()

	deviceA := testDeviceID("aa")
	deviceB := testDeviceID("bb")
	_, err := repo.CreateDevice(ctx, deviceA)
	require.NoError(t, err)
	_, err = repo.CreateDevice(ctx, deviceB)
	require.NoError(t, err)

	ids, err := repo.ListDeviceIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{deviceA, deviceB}, ids)

	require.NoError(t, repo.DeleteRecordSet(ctx, deviceA))
	ids, err = repo.ListDeviceIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{deviceB}, ids)

	assert.Error(t, repo.DeleteRecordSet(ctx, deviceA))
}
