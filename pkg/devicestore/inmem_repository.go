package devicestore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

// InMemStoreRepository implements StoreRepository with in-memory maps. It is
// the default test fixture and backs short-lived tooling.
type InMemStoreRepository struct {
	sets  map[string]RecordSet
	index ownerIndex
	mu    sync.RWMutex
}

// NewInMemStoreRepository creates a new in-memory store repository
func NewInMemStoreRepository() *InMemStoreRepository {
	return &InMemStoreRepository{
		sets:  make(map[string]RecordSet),
		index: newOwnerIndex(),
	}
}

// CreateDevice creates an unclaimed record set, idempotently
func (r *InMemStoreRepository) CreateDevice(ctx context.Context, deviceID string) (RecordSet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.sets[deviceID]; ok {
		slog.Debug("device already exists", "deviceID", deviceID)
		return existing.Clone(), nil
	}

	now := time.Now().UTC()
	set := RecordSet{
		Record: DeviceRecord{
			DeviceID:  deviceID,
			CreatedAt: now,
		},
	}
	r.sets[deviceID] = set
	slog.Debug("device created", "deviceID", deviceID)
	return set.Clone(), nil
}

// GetRecordSet loads one device's record set
func (r *InMemStoreRepository) GetRecordSet(ctx context.Context, deviceID string) (RecordSet, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.sets[deviceID]
	if !ok {
		return RecordSet{}, errors.NotFound("device", deviceID)
	}
	return set.Clone(), nil
}

// PutRecordSet atomically replaces a record set and reindexes its owner
func (r *InMemStoreRepository) PutRecordSet(ctx context.Context, set RecordSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	deviceID := set.Record.DeviceID
	if deviceID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "record set without device id")
	}

	if previous, ok := r.sets[deviceID]; ok {
		r.index.remove(previous.Record.Owner, deviceID)
	}
	r.index.add(set.Record.Owner, deviceID)
	r.sets[deviceID] = set.Clone()
	return nil
}

// ListDeviceIDs enumerates every stored device id
func (r *InMemStoreRepository) ListDeviceIDs(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.sets))
	for id := range r.sets {
		ids = append(ids, id)
	}
	return ids, nil
}

// FindDeviceIDsByOwner resolves owner → device ids through the index
func (r *InMemStoreRepository) FindDeviceIDsByOwner(ctx context.Context, ref OwnerRef) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.index.lookup(ref), nil
}

// DeleteRecordSet removes a record set and its index entries
func (r *InMemStoreRepository) DeleteRecordSet(ctx context.Context, deviceID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sets[deviceID]
	if !ok {
		return errors.NotFound("device", deviceID)
	}
	r.index.remove(set.Record.Owner, deviceID)
	delete(r.sets, deviceID)
	return nil
}

// WithTx returns self; the in-memory repository has no transactions
func (r *InMemStoreRepository) WithTx(tx interface{}) StoreRepository {
	return r
}

// ownerIndex maps each identity field value to the device ids bound to it.
// Owner lookups go through this index instead of scanning record sets.
type ownerIndex struct {
	byHandle map[string]map[string]struct{}
	byGUID   map[string]map[string]struct{}
	byPhone  map[string]map[string]struct{}
}

func newOwnerIndex() ownerIndex {
	return ownerIndex{
		byHandle: make(map[string]map[string]struct{}),
		byGUID:   make(map[string]map[string]struct{}),
		byPhone:  make(map[string]map[string]struct{}),
	}
}

func indexAdd(m map[string]map[string]struct{}, key, deviceID string) {
	if key == "" {
		return
	}
	if m[key] == nil {
		m[key] = make(map[string]struct{})
	}
	m[key][deviceID] = struct{}{}
}

func indexRemove(m map[string]map[string]struct{}, key, deviceID string) {
	if key == "" {
		return
	}
	if ids, ok := m[key]; ok {
		delete(ids, deviceID)
		if len(ids) == 0 {
			delete(m, key)
		}
	}
}

func (ix ownerIndex) add(o OwnerIdentity, deviceID string) {
	indexAdd(ix.byHandle, o.Handle, deviceID)
	indexAdd(ix.byGUID, o.GUID, deviceID)
	indexAdd(ix.byPhone, o.Phone, deviceID)
}

func (ix ownerIndex) remove(o OwnerIdentity, deviceID string) {
	indexRemove(ix.byHandle, o.Handle, deviceID)
	indexRemove(ix.byGUID, o.GUID, deviceID)
	indexRemove(ix.byPhone, o.Phone, deviceID)
}

func (ix ownerIndex) lookup(ref OwnerRef) []string {
	var m map[string]map[string]struct{}
	switch ref.Kind {
	case OwnerRefHandle:
		m = ix.byHandle
	case OwnerRefGUID:
		m = ix.byGUID
	case OwnerRefPhone:
		m = ix.byPhone
	default:
		return nil
	}
	ids := make([]string, 0, len(m[ref.Value]))
	for id := range m[ref.Value] {
		ids = append(ids, id)
	}
	return ids
}
