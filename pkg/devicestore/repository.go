package devicestore

import (
	"context"
	"regexp"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

// deviceIDPattern is the required shape of a device id: 64 lowercase hex
// characters
var deviceIDPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateDeviceID rejects malformed device id tokens before any store
// access
func ValidateDeviceID(deviceID string) error {
	if !deviceIDPattern.MatchString(deviceID) {
		return errors.New(errors.ErrCodeValidationFailed, "device id must be 64 lowercase hex characters")
	}
	return nil
}

// StoreRepository persists isolated per-device record sets and maintains the
// owner index. Implementations report unreadable or corrupt state as
// STORE_IO errors and never fabricate ownership from a failed read.
type StoreRepository interface {
	// CreateDevice creates an unclaimed record set, or returns the existing
	// one unchanged (idempotent)
	CreateDevice(ctx context.Context, deviceID string) (RecordSet, error)

	// GetRecordSet loads one device's record set
	GetRecordSet(ctx context.Context, deviceID string) (RecordSet, error)

	// PutRecordSet atomically replaces one device's record set and updates
	// the owner index to match the record's bound identity
	PutRecordSet(ctx context.Context, set RecordSet) error

	// ListDeviceIDs enumerates every stored device id
	ListDeviceIDs(ctx context.Context) ([]string, error)

	// FindDeviceIDsByOwner resolves owner → device ids through the explicit
	// index, never by scanning record sets
	FindDeviceIDsByOwner(ctx context.Context, ref OwnerRef) ([]string, error)

	// DeleteRecordSet removes a record set and its index entries
	DeleteRecordSet(ctx context.Context, deviceID string) error

	// WithTx returns a repository bound to the given transaction
	WithTx(tx interface{}) StoreRepository
}
