package devicestore

import (
	"context"
	"log/slog"
	"time"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
)

// StoreService exposes the device store operations. Every mutation of a
// single device is serialized through a per-device lock and committed
// together with its change log entry, so a record set is never observed
// half-applied.
type StoreService struct {
	repo  StoreRepository
	locks *keyedMutex
}

// NewStoreService creates a store service backed by the given repository
func NewStoreService(repo StoreRepository) *StoreService {
	return &StoreService{
		repo:  repo,
		locks: newKeyedMutex(),
	}
}

// Repository exposes the underlying repository for read-only consumers
func (s *StoreService) Repository() StoreRepository {
	return s.repo
}

// CreateDevice creates an unclaimed record set for a seed token. The call
// is idempotent: an existing record set is returned unchanged.
func (s *StoreService) CreateDevice(ctx context.Context, seedToken string) (RecordSet, error) {
	if err := ValidateDeviceID(seedToken); err != nil {
		return RecordSet{}, err
	}

	unlock := s.locks.Lock(seedToken)
	defer unlock()

	set, err := s.repo.CreateDevice(ctx, seedToken)
	if err != nil {
		return RecordSet{}, err
	}
	return set, nil
}

// GetDevice loads one device's record set
func (s *StoreService) GetDevice(ctx context.Context, deviceID string) (RecordSet, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return RecordSet{}, err
	}
	return s.repo.GetRecordSet(ctx, deviceID)
}

// Update runs a locked read-modify-write cycle for one device. The
// mutation function sees the current record set and edits it in place; the
// result is committed atomically. A context cancelled before commit leaves
// the stored state untouched.
func (s *StoreService) Update(ctx context.Context, deviceID string, fn func(*RecordSet) error) (RecordSet, error) {
	unlock := s.locks.Lock(deviceID)
	defer unlock()

	set, err := s.repo.GetRecordSet(ctx, deviceID)
	if err != nil {
		return RecordSet{}, err
	}

	if err := fn(&set); err != nil {
		return RecordSet{}, err
	}

	if err := ctx.Err(); err != nil {
		return RecordSet{}, errors.Wrap(err, errors.ErrCodeTimeout, "mutation abandoned before commit")
	}

	if err := s.repo.PutRecordSet(ctx, set); err != nil {
		return RecordSet{}, err
	}
	return set, nil
}

// Claim binds an owner identity to a device. The binding is all-or-nothing
// and refreshes the verification time; the claim travels to sibling stores
// through the appended change log entry.
func (s *StoreService) Claim(ctx context.Context, deviceID string, identity OwnerIdentity) (RecordSet, error) {
	if err := ValidateDeviceID(deviceID); err != nil {
		return RecordSet{}, err
	}
	if !identity.IsComplete() {
		return RecordSet{}, errors.New(errors.ErrCodeValidationFailed,
			"identity binding is all-or-nothing: handle, guid and phone are all required")
	}

	now := time.Now().UTC()
	set, err := s.Update(ctx, deviceID, func(set *RecordSet) error {
		_, err := AppendChange(set, Operation{
			Kind:       OpUpsertIdentity,
			Identity:   &identity,
			VerifiedAt: now,
		}, now)
		return err
	})
	if err != nil {
		return RecordSet{}, err
	}

	slog.Info("device claimed", "deviceID", deviceID, "handle", identity.Handle)
	return set, nil
}

// RefreshVerification updates last_verified_at after a successful
// verification or auto-match
func (s *StoreService) RefreshVerification(ctx context.Context, deviceID string) (RecordSet, error) {
	now := time.Now().UTC()
	return s.Update(ctx, deviceID, func(set *RecordSet) error {
		set.Record.LastVerifiedAt = now
		return nil
	})
}

// AddBrowser associates an opaque browser token with a device. A token seen
// for the first time starts pending until a verification confirms it;
// re-adding an existing token refreshes its last-used time.
func (s *StoreService) AddBrowser(ctx context.Context, deviceID, browserID, userAgent string, pending bool) (RecordSet, error) {
	if browserID == "" {
		return RecordSet{}, errors.New(errors.ErrCodeMissingRequired, "browser id is required")
	}

	now := time.Now().UTC()
	return s.Update(ctx, deviceID, func(set *RecordSet) error {
		if existing := set.FindBrowser(browserID); existing != nil {
			existing.LastUsedAt = now
			if !pending {
				existing.Pending = false
			}
			return nil
		}
		set.Browsers = append(set.Browsers, BrowserAssociation{
			BrowserID:     browserID,
			BrowserFamily: fingerprint.FamilyFromUserAgent(userAgent),
			UserAgent:     userAgent,
			AddedAt:       now,
			LastUsedAt:    now,
			Pending:       pending,
		})
		return nil
	})
}

// ConfirmPendingBrowsers marks every pending browser association confirmed;
// called when a verification flow succeeds
func (s *StoreService) ConfirmPendingBrowsers(ctx context.Context, deviceID string) (RecordSet, error) {
	return s.Update(ctx, deviceID, func(set *RecordSet) error {
		for i := range set.Browsers {
			set.Browsers[i].Pending = false
		}
		return nil
	})
}

// RecordAccess appends an access log entry. The access log is device-local
// and never replicated.
func (s *StoreService) RecordAccess(ctx context.Context, deviceID, ip, userAgent string) error {
	now := time.Now().UTC()
	_, err := s.Update(ctx, deviceID, func(set *RecordSet) error {
		set.AccessLog = append(set.AccessLog, AccessLogEntry{
			IP:         ip,
			UserAgent:  userAgent,
			AccessTime: now,
		})
		return nil
	})
	return err
}

// PutFingerprintSnapshot upserts the device's latest snapshot
func (s *StoreService) PutFingerprintSnapshot(ctx context.Context, deviceID string, snap fingerprint.Snapshot) error {
	if snap.CapturedAt.IsZero() {
		snap.CapturedAt = time.Now().UTC()
	}
	_, err := s.Update(ctx, deviceID, func(set *RecordSet) error {
		set.Snapshot = &snap
		return nil
	})
	return err
}

// AddCredential registers a WebAuthn credential; the registration
// replicates to sibling stores through the change log
func (s *StoreService) AddCredential(ctx context.Context, deviceID string, cred CredentialRecord) (RecordSet, error) {
	if cred.CredentialID == "" {
		return RecordSet{}, errors.New(errors.ErrCodeMissingRequired, "credential id is required")
	}

	now := time.Now().UTC()
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = now
	}
	return s.Update(ctx, deviceID, func(set *RecordSet) error {
		_, err := AppendChange(set, Operation{
			Kind:       OpUpsertCredential,
			Credential: &cred,
		}, now)
		return err
	})
}

// ResetDevice clears the owner identity and dependent rows while keeping
// the device id and its access history. The device leaves its owner group,
// so nothing about the reset replicates.
func (s *StoreService) ResetDevice(ctx context.Context, deviceID string) (RecordSet, error) {
	set, err := s.Update(ctx, deviceID, func(set *RecordSet) error {
		set.Record.Owner = OwnerIdentity{}
		set.Record.LastVerifiedAt = time.Time{}
		set.Record.Trusted = false
		set.Browsers = nil
		set.Snapshot = nil
		set.Credentials = nil
		set.ChangeLog = nil
		set.SyncStates = nil
		set.Stamps = nil
		return nil
	})
	if err != nil {
		return RecordSet{}, err
	}

	slog.Info("device reset", "deviceID", deviceID)
	return set, nil
}

// FindDevicesByOwner loads every record set bound to the given owner ref.
// Unreadable candidates are skipped with a log line; a failed read never
// fabricates or hides ownership of the readable rest.
func (s *StoreService) FindDevicesByOwner(ctx context.Context, ref OwnerRef) ([]RecordSet, error) {
	ids, err := s.repo.FindDeviceIDsByOwner(ctx, ref)
	if err != nil {
		return nil, err
	}

	sets := make([]RecordSet, 0, len(ids))
	for _, id := range ids {
		set, err := s.repo.GetRecordSet(ctx, id)
		if err != nil {
			slog.Error("skipping unreadable device in owner scan", "deviceID", id, "error", err)
			continue
		}
		sets = append(sets, set)
	}
	return sets, nil
}

// ListOwnerDevices returns the device records bound to a handle, for
// device-management consumers
func (s *StoreService) ListOwnerDevices(ctx context.Context, handle string) ([]DeviceRecord, error) {
	sets, err := s.FindDevicesByOwner(ctx, ByHandle(handle))
	if err != nil {
		return nil, err
	}

	records := make([]DeviceRecord, 0, len(sets))
	for _, set := range sets {
		records = append(records, set.Record)
	}
	return records, nil
}
