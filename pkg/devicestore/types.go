package devicestore

import (
	"time"

	"github.com/google/uuid"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
)

// OwnerIdentity is the identity bound to a claimed device. The binding is
// all-or-nothing: a record is claimed iff handle, guid and phone are all
// present.
type OwnerIdentity struct {
	Handle string `json:"handle,omitempty"`
	GUID   string `json:"guid,omitempty"`
	Phone  string `json:"phone,omitempty"`
}

// IsComplete reports whether all three identity fields are present
func (o OwnerIdentity) IsComplete() bool {
	return o.Handle != "" && o.GUID != "" && o.Phone != ""
}

// IsEmpty reports whether no identity field is present
func (o OwnerIdentity) IsEmpty() bool {
	return o.Handle == "" && o.GUID == "" && o.Phone == ""
}

// DeviceRecord is the durable identity unit for one physical device
type DeviceRecord struct {
	// DeviceID is an opaque 64-hex-char token, the primary key
	DeviceID       string        `json:"device_id"`
	Owner          OwnerIdentity `json:"owner"`
	CreatedAt      time.Time     `json:"created_at"`
	LastVerifiedAt time.Time     `json:"last_verified_at"`
	DisplayName    string        `json:"display_name,omitempty"`
	Trusted        bool          `json:"trusted"`
}

// Claimed reports whether an owner identity is bound to the record
func (r DeviceRecord) Claimed() bool {
	return r.Owner.IsComplete()
}

// BrowserAssociation links one browser installation to a device. It is
// created pending on first sight of a new opaque token and confirmed when a
// verification succeeds.
type BrowserAssociation struct {
	BrowserID     string    `json:"browser_id"`
	BrowserFamily string    `json:"browser_family,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	AddedAt       time.Time `json:"added_at"`
	LastUsedAt    time.Time `json:"last_used_at"`
	Pending       bool      `json:"pending"`
}

// AccessLogEntry records one access; append-only, never replicated
type AccessLogEntry struct {
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent,omitempty"`
	AccessTime time.Time `json:"access_time"`
}

// CredentialRecord is a WebAuthn credential. Credentials are owner-level
// facts: replication copies them into every sibling record set so any device
// of the owner can serve an assertion.
type CredentialRecord struct {
	CredentialID string    `json:"credential_id"`
	PublicKey    []byte    `json:"public_key"`
	OwnerGUID    string    `json:"owner_guid"`
	DeviceGUID   string    `json:"device_guid"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// SyncStateEntry is one audit row per sync pass per peer
type SyncStateEntry struct {
	ID           uuid.UUID `json:"id"`
	PeerDeviceID string    `json:"peer_device_id"`
	LastSyncAt   time.Time `json:"last_sync_at"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
}

// Sync status values
const (
	SyncStatusOK     = "ok"
	SyncStatusFailed = "failed"
)

// RecordSet is the isolated, per-device unit of persistence and
// replication: one DeviceRecord plus every dependent row.
type RecordSet struct {
	Record      DeviceRecord          `json:"record"`
	Browsers    []BrowserAssociation  `json:"browsers,omitempty"`
	AccessLog   []AccessLogEntry      `json:"access_log,omitempty"`
	Snapshot    *fingerprint.Snapshot `json:"snapshot,omitempty"`
	Credentials []CredentialRecord    `json:"credentials,omitempty"`
	ChangeLog   []ChangeLogEntry      `json:"change_log,omitempty"`
	SyncStates  []SyncStateEntry      `json:"sync_states,omitempty"`
	Clock       uint64                `json:"clock"`
	Stamps      map[string]ClockStamp `json:"stamps,omitempty"`
}

// FindBrowser returns the association for an opaque browser token, or nil
func (s *RecordSet) FindBrowser(browserID string) *BrowserAssociation {
	for i := range s.Browsers {
		if s.Browsers[i].BrowserID == browserID {
			return &s.Browsers[i]
		}
	}
	return nil
}

// ConfirmedBrowserCount counts non-pending browser associations
func (s *RecordSet) ConfirmedBrowserCount() int {
	n := 0
	for i := range s.Browsers {
		if !s.Browsers[i].Pending {
			n++
		}
	}
	return n
}

// HasAccessFromIP reports whether the access log contains the given IP
func (s *RecordSet) HasAccessFromIP(ip string) bool {
	if ip == "" {
		return false
	}
	for i := range s.AccessLog {
		if s.AccessLog[i].IP == ip {
			return true
		}
	}
	return false
}

// UnsyncedEntries returns the change log entries not yet confirmed applied
// by every sibling
func (s *RecordSet) UnsyncedEntries() []ChangeLogEntry {
	var entries []ChangeLogEntry
	for _, e := range s.ChangeLog {
		if !e.Synced {
			entries = append(entries, e)
		}
	}
	return entries
}

// Clone returns a deep copy so callers can mutate without aliasing the
// repository's state
func (s RecordSet) Clone() RecordSet {
	out := s
	out.Browsers = append([]BrowserAssociation(nil), s.Browsers...)
	out.AccessLog = append([]AccessLogEntry(nil), s.AccessLog...)
	out.Credentials = make([]CredentialRecord, len(s.Credentials))
	for i, c := range s.Credentials {
		c.PublicKey = append([]byte(nil), c.PublicKey...)
		out.Credentials[i] = c
	}
	out.ChangeLog = append([]ChangeLogEntry(nil), s.ChangeLog...)
	out.SyncStates = append([]SyncStateEntry(nil), s.SyncStates...)
	if s.Snapshot != nil {
		snap := *s.Snapshot
		out.Snapshot = &snap
	}
	if s.Stamps != nil {
		out.Stamps = make(map[string]ClockStamp, len(s.Stamps))
		for k, v := range s.Stamps {
			out.Stamps[k] = v
		}
	}
	return out
}

// OwnerRefKind selects which identity field an owner lookup keys on
type OwnerRefKind string

const (
	OwnerRefHandle OwnerRefKind = "handle"
	OwnerRefGUID   OwnerRefKind = "guid"
	OwnerRefPhone  OwnerRefKind = "phone"
)

// OwnerRef is a single-field owner lookup key
type OwnerRef struct {
	Kind  OwnerRefKind
	Value string
}

// ByHandle builds a handle lookup key
func ByHandle(handle string) OwnerRef { return OwnerRef{Kind: OwnerRefHandle, Value: handle} }

// ByGUID builds a guid lookup key
func ByGUID(guid string) OwnerRef { return OwnerRef{Kind: OwnerRefGUID, Value: guid} }

// ByPhone builds a phone lookup key
func ByPhone(phone string) OwnerRef { return OwnerRef{Kind: OwnerRefPhone, Value: phone} }

// Matches reports whether the ref selects the given identity
func (ref OwnerRef) Matches(o OwnerIdentity) bool {
	if ref.Value == "" {
		return false
	}
	switch ref.Kind {
	case OwnerRefHandle:
		return o.Handle == ref.Value
	case OwnerRefGUID:
		return o.GUID == ref.Value
	case OwnerRefPhone:
		return o.Phone == ref.Value
	default:
		return false
	}
}
