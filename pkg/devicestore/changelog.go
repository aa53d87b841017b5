package devicestore

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// OpKind names a replicated operation
type OpKind string

const (
	// OpUpsertIdentity binds or updates the owner identity; produced by
	// claim and by later identity edits
	OpUpsertIdentity OpKind = "upsert_identity"
	// OpUpsertCredential registers or refreshes a WebAuthn credential
	OpUpsertCredential OpKind = "upsert_credential"
)

// Operation is the idempotent payload of a change log entry. Exactly one of
// the optional fields is set, selected by Kind.
type Operation struct {
	Kind       OpKind            `json:"kind"`
	Identity   *OwnerIdentity    `json:"identity,omitempty"`
	VerifiedAt time.Time         `json:"verified_at,omitempty"`
	Credential *CredentialRecord `json:"credential,omitempty"`
}

// ClockStamp orders writes to one logical key across replicas: higher
// counter wins, origin device id breaks ties deterministically.
type ClockStamp struct {
	Counter uint64 `json:"counter"`
	Origin  string `json:"origin"`
}

// Newer reports whether s supersedes other
func (s ClockStamp) Newer(other ClockStamp) bool {
	if s.Counter != other.Counter {
		return s.Counter > other.Counter
	}
	return s.Origin > other.Origin
}

// ChangeLogEntry is one append-only, replicated mutation
type ChangeLogEntry struct {
	ID        uuid.UUID `json:"id"`
	Op        Operation `json:"op"`
	Clock     uint64    `json:"clock"`
	Origin    string    `json:"origin"`
	CreatedAt time.Time `json:"created_at"`
	Synced    bool      `json:"synced"`
}

// Stamp returns the entry's logical clock stamp
func (e ChangeLogEntry) Stamp() ClockStamp {
	return ClockStamp{Counter: e.Clock, Origin: e.Origin}
}

// clockKey is the logical key an operation writes, for last-writer-wins
// conflict resolution
func clockKey(op Operation) (string, error) {
	switch op.Kind {
	case OpUpsertIdentity:
		return "identity", nil
	case OpUpsertCredential:
		if op.Credential == nil {
			return "", fmt.Errorf("upsert_credential operation without credential")
		}
		return "credential:" + op.Credential.CredentialID, nil
	default:
		return "", fmt.Errorf("unknown operation kind: %s", op.Kind)
	}
}

// AppendChange advances the record set's logical clock, applies the
// operation locally and appends the resulting unsynced entry. The caller
// holds the per-device lock and persists the record set afterwards, making
// mutation and change log append one atomic commit.
func AppendChange(set *RecordSet, op Operation, now time.Time) (ChangeLogEntry, error) {
	set.Clock++
	entry := ChangeLogEntry{
		ID:        uuid.New(),
		Op:        op,
		Clock:     set.Clock,
		Origin:    set.Record.DeviceID,
		CreatedAt: now,
		Synced:    false,
	}
	if err := ApplyEntry(set, entry); err != nil {
		return ChangeLogEntry{}, err
	}
	set.ChangeLog = append(set.ChangeLog, entry)
	return entry, nil
}

// ApplyEntry applies one change log entry to a record set. Application is an
// idempotent last-writer-wins upsert: an entry older than the stamp already
// recorded for its key is a no-op, so replay and out-of-causal-order
// delivery both converge. The receiving clock advances to at least the
// entry's clock.
func ApplyEntry(set *RecordSet, entry ChangeLogEntry) error {
	key, err := clockKey(entry.Op)
	if err != nil {
		return err
	}

	if entry.Clock > set.Clock {
		set.Clock = entry.Clock
	}

	if set.Stamps == nil {
		set.Stamps = make(map[string]ClockStamp)
	}
	if current, ok := set.Stamps[key]; ok && !entry.Stamp().Newer(current) {
		return nil
	}

	switch entry.Op.Kind {
	case OpUpsertIdentity:
		if entry.Op.Identity == nil {
			return fmt.Errorf("upsert_identity operation without identity")
		}
		set.Record.Owner = *entry.Op.Identity
		if entry.Op.VerifiedAt.After(set.Record.LastVerifiedAt) {
			set.Record.LastVerifiedAt = entry.Op.VerifiedAt
		}
	case OpUpsertCredential:
		upsertCredential(set, *entry.Op.Credential)
	}

	set.Stamps[key] = entry.Stamp()
	return nil
}

func upsertCredential(set *RecordSet, cred CredentialRecord) {
	for i := range set.Credentials {
		if set.Credentials[i].CredentialID == cred.CredentialID {
			set.Credentials[i] = cred
			return
		}
	}
	set.Credentials = append(set.Credentials, cred)
}
