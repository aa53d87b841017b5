package devicestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

// fileSchemaVersion is the on-disk layout version. It is written once at
// store open and checked on every subsequent open; the layout is never
// probed on the hot path.
const fileSchemaVersion = 1

// FileStoreRepository implements StoreRepository with one JSON document per
// device. Per-device isolation is the replication unit; owner lookups go
// through an explicit persisted index, not directory globbing.
type FileStoreRepository struct {
	dataDir string
	// owners maps device id → bound identity and is the source of the
	// in-memory reverse index
	owners map[string]OwnerIdentity
	index  ownerIndex
	mu     sync.RWMutex
}

type storeMeta struct {
	SchemaVersion int `json:"schema_version"`
}

type ownerIndexFile struct {
	Owners map[string]OwnerIdentity `json:"owners"`
}

// NewFileStoreRepository opens (or initializes) a file-backed store rooted
// at dataDir
func NewFileStoreRepository(dataDir string) (*FileStoreRepository, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, "devices"), 0755); err != nil {
		return nil, errors.StoreIO(err, "failed to create data directory")
	}

	repo := &FileStoreRepository{
		dataDir: dataDir,
		owners:  make(map[string]OwnerIdentity),
		index:   newOwnerIndex(),
	}

	if err := repo.checkSchema(); err != nil {
		return nil, err
	}
	if err := repo.loadIndex(); err != nil {
		return nil, err
	}

	return repo, nil
}

// checkSchema validates the on-disk layout version once at open
func (r *FileStoreRepository) checkSchema() error {
	metaPath := filepath.Join(r.dataDir, "meta.json")

	data, err := os.ReadFile(metaPath)
	if os.IsNotExist(err) {
		meta := storeMeta{SchemaVersion: fileSchemaVersion}
		return r.writeAtomic(metaPath, meta)
	}
	if err != nil {
		return errors.StoreIO(err, "failed to read store metadata")
	}

	var meta storeMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return errors.StoreIO(err, "corrupt store metadata")
	}
	if meta.SchemaVersion > fileSchemaVersion {
		return errors.Newf(errors.ErrCodeStoreIO,
			"store schema version %d is newer than supported version %d",
			meta.SchemaVersion, fileSchemaVersion)
	}
	return nil
}

func (r *FileStoreRepository) loadIndex() error {
	indexPath := filepath.Join(r.dataDir, "owners.json")

	data, err := os.ReadFile(indexPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.StoreIO(err, "failed to read owner index")
	}

	var file ownerIndexFile
	if err := json.Unmarshal(data, &file); err != nil {
		return errors.StoreIO(err, "corrupt owner index")
	}

	for deviceID, owner := range file.Owners {
		r.owners[deviceID] = owner
		r.index.add(owner, deviceID)
	}
	return nil
}

func (r *FileStoreRepository) devicePath(deviceID string) string {
	return filepath.Join(r.dataDir, "devices", deviceID+".json")
}

// writeAtomic writes JSON through a temp file and rename so readers never
// see a half-written document
func (r *FileStoreRepository) writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.StoreIO(err, "failed to marshal data")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return errors.StoreIO(err, "failed to write temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.StoreIO(err, "failed to rename temp file")
	}
	return nil
}

func (r *FileStoreRepository) saveIndex() error {
	file := ownerIndexFile{Owners: r.owners}
	return r.writeAtomic(filepath.Join(r.dataDir, "owners.json"), file)
}

// CreateDevice creates an unclaimed record set, idempotently
func (r *FileStoreRepository) CreateDevice(ctx context.Context, deviceID string) (RecordSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.readSet(deviceID)
	if err == nil {
		slog.Debug("device already exists", "deviceID", deviceID)
		return existing, nil
	}
	if !errors.IsCode(err, errors.ErrCodeNotFound) {
		return RecordSet{}, err
	}

	now := time.Now().UTC()
	set := RecordSet{
		Record: DeviceRecord{
			DeviceID:  deviceID,
			CreatedAt: now,
		},
	}
	if err := r.writeAtomic(r.devicePath(deviceID), set); err != nil {
		return RecordSet{}, err
	}
	slog.Debug("device created", "deviceID", deviceID)
	return set, nil
}

func (r *FileStoreRepository) readSet(deviceID string) (RecordSet, error) {
	data, err := os.ReadFile(r.devicePath(deviceID))
	if os.IsNotExist(err) {
		return RecordSet{}, errors.NotFound("device", deviceID)
	}
	if err != nil {
		return RecordSet{}, errors.StoreIO(err, fmt.Sprintf("failed to read record set for %s", deviceID))
	}

	var set RecordSet
	if err := json.Unmarshal(data, &set); err != nil {
		return RecordSet{}, errors.StoreIO(err, fmt.Sprintf("corrupt record set for %s", deviceID))
	}
	return set, nil
}

// GetRecordSet loads one device's record set
func (r *FileStoreRepository) GetRecordSet(ctx context.Context, deviceID string) (RecordSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.readSet(deviceID)
}

// PutRecordSet atomically replaces a record set and reindexes its owner
func (r *FileStoreRepository) PutRecordSet(ctx context.Context, set RecordSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	deviceID := set.Record.DeviceID
	if deviceID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "record set without device id")
	}

	if err := r.writeAtomic(r.devicePath(deviceID), set); err != nil {
		return err
	}

	previous, hadPrevious := r.owners[deviceID]
	if !hadPrevious || previous != set.Record.Owner {
		if hadPrevious {
			r.index.remove(previous, deviceID)
		}
		r.index.add(set.Record.Owner, deviceID)
		r.owners[deviceID] = set.Record.Owner
		if err := r.saveIndex(); err != nil {
			return err
		}
	}
	return nil
}

// ListDeviceIDs enumerates every stored device id from the devices
// directory
func (r *FileStoreRepository) ListDeviceIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(r.dataDir, "devices"))
	if err != nil {
		return nil, errors.StoreIO(err, "failed to list devices directory")
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	return ids, nil
}

// FindDeviceIDsByOwner resolves owner → device ids through the persisted
// index
func (r *FileStoreRepository) FindDeviceIDsByOwner(ctx context.Context, ref OwnerRef) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.index.lookup(ref), nil
}

// DeleteRecordSet removes a record set and its index entries
func (r *FileStoreRepository) DeleteRecordSet(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.devicePath(deviceID)); err != nil {
		if os.IsNotExist(err) {
			return errors.NotFound("device", deviceID)
		}
		return errors.StoreIO(err, "failed to delete record set")
	}

	if owner, ok := r.owners[deviceID]; ok {
		r.index.remove(owner, deviceID)
		delete(r.owners, deviceID)
		return r.saveIndex()
	}
	return nil
}

// WithTx returns self; file storage commits per record set via atomic
// rename
func (r *FileStoreRepository) WithTx(tx interface{}) StoreRepository {
	return r
}
