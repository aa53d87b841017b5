package replication

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/config"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/devicestore"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
)

// Service fans change log entries out across every device record owned by
// the same identity. Replication is leaderless and eventually consistent:
// each device's change log holds only the entries it originated, a sync
// pass pushes them to every sibling and pulls the siblings' entries back,
// and applies are idempotent last-writer-wins so replay and out-of-order
// delivery converge.
type Service struct {
	store   *devicestore.StoreService
	timeout time.Duration
}

// NewService creates a replication service over the given store
func NewService(store *devicestore.StoreService, cfg config.SyncConfig) *Service {
	return &Service{
		store:   store,
		timeout: cfg.SyncTimeout,
	}
}

// SyncDevice runs one replication pass for a device: push every unsynced
// local entry to each sibling sharing the owner handle, pull each sibling's
// unsynced entries and apply them locally, then mark the local entries
// synced only if every sibling applied them.
//
// A failed sibling never blocks the others: its push is skipped, its
// entries are not pulled, the local entries stay unsynced for the next
// pass, and the failure lands in the sync state audit row for that peer.
func (s *Service) SyncDevice(ctx context.Context, deviceID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	local, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReplicationFailed, "cannot load sync origin")
	}

	handle := local.Record.Owner.Handle
	if handle == "" {
		// unclaimed devices have no sibling group
		return nil
	}

	siblings, err := s.store.FindDevicesByOwner(ctx, devicestore.ByHandle(handle))
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReplicationFailed, "cannot list sibling devices")
	}

	toPush := local.UnsyncedEntries()

	now := time.Now().UTC()
	var pulled []devicestore.ChangeLogEntry
	var states []devicestore.SyncStateEntry
	allApplied := true

	for i := range siblings {
		peerID := siblings[i].Record.DeviceID
		if peerID == deviceID {
			continue
		}

		peer, err := s.pushToSibling(ctx, peerID, toPush)
		if err != nil {
			slog.Error("sibling apply failed, continuing with others",
				"code", errors.ErrCodeReplicationFailed,
				"origin", deviceID, "peer", peerID, "error", err)
			allApplied = false
			states = append(states, devicestore.SyncStateEntry{
				ID:           uuid.New(),
				PeerDeviceID: peerID,
				LastSyncAt:   now,
				Status:       devicestore.SyncStatusFailed,
				Detail:       err.Error(),
			})
			continue
		}

		pulled = append(pulled, peer.UnsyncedEntries()...)
		states = append(states, devicestore.SyncStateEntry{
			ID:           uuid.New(),
			PeerDeviceID: peerID,
			LastSyncAt:   now,
			Status:       devicestore.SyncStatusOK,
		})
	}

	pushedIDs := make(map[uuid.UUID]bool, len(toPush))
	for _, e := range toPush {
		pushedIDs[e.ID] = true
	}

	_, err = s.store.Update(ctx, deviceID, func(set *devicestore.RecordSet) error {
		for _, entry := range pulled {
			if err := devicestore.ApplyEntry(set, entry); err != nil {
				return err
			}
		}
		if allApplied {
			for i := range set.ChangeLog {
				if pushedIDs[set.ChangeLog[i].ID] {
					set.ChangeLog[i].Synced = true
				}
			}
		}
		upsertSyncStates(set, states)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReplicationFailed, "cannot commit sync results at origin")
	}
	return nil
}

// pushToSibling applies the origin's entries to one sibling record set and
// returns the sibling's state after the apply
func (s *Service) pushToSibling(ctx context.Context, peerID string, entries []devicestore.ChangeLogEntry) (devicestore.RecordSet, error) {
	return s.store.Update(ctx, peerID, func(set *devicestore.RecordSet) error {
		for _, entry := range entries {
			if err := devicestore.ApplyEntry(set, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// upsertSyncStates keeps one audit row per peer, replacing the previous
// pass's row
func upsertSyncStates(set *devicestore.RecordSet, states []devicestore.SyncStateEntry) {
	for _, state := range states {
		replaced := false
		for i := range set.SyncStates {
			if set.SyncStates[i].PeerDeviceID == state.PeerDeviceID {
				set.SyncStates[i] = state
				replaced = true
				break
			}
		}
		if !replaced {
			set.SyncStates = append(set.SyncStates, state)
		}
	}
}

// SyncAll runs one sync pass over every device. Per-device failures are
// logged and do not stop the sweep.
func (s *Service) SyncAll(ctx context.Context) error {
	ids, err := s.store.Repository().ListDeviceIDs(ctx)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeReplicationFailed, "cannot list devices for sync sweep")
	}

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrCodeTimeout, "sync sweep abandoned")
		}
		if err := s.SyncDevice(ctx, id); err != nil {
			slog.Error("device sync failed during sweep", "deviceID", id, "error", err)
		}
	}
	return nil
}
