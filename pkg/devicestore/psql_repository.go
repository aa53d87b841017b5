package devicestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
	"github.com/zoeemmanuel/superappauth-sub001/pkg/fingerprint"
)

// DBTX is satisfied by both a pgx connection pool and a pgx transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// txBeginner is implemented by pgxpool.Pool; a DBTX that can open
// transactions lets PutRecordSet commit a whole record set atomically
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// migrations is the versioned schema, applied in order exactly once at
// store open. The schema is never probed on the hot path.
var migrations = []string{
	// v1: base schema
	`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);
	CREATE TABLE IF NOT EXISTS devices (
		device_id TEXT PRIMARY KEY,
		handle TEXT,
		guid TEXT,
		phone TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		last_verified_at TIMESTAMPTZ,
		display_name TEXT NOT NULL DEFAULT '',
		trusted BOOLEAN NOT NULL DEFAULT FALSE,
		clock BIGINT NOT NULL DEFAULT 0,
		stamps JSONB NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_devices_handle ON devices (handle) WHERE handle IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_devices_guid ON devices (guid) WHERE guid IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_devices_phone ON devices (phone) WHERE phone IS NOT NULL;
	CREATE TABLE IF NOT EXISTS browser_associations (
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		browser_id TEXT NOT NULL,
		browser_family TEXT NOT NULL DEFAULT '',
		user_agent TEXT NOT NULL DEFAULT '',
		added_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ NOT NULL,
		pending BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (device_id, browser_id)
	);
	CREATE TABLE IF NOT EXISTS access_log (
		id BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		ip TEXT NOT NULL,
		user_agent TEXT NOT NULL DEFAULT '',
		access_time TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS fingerprint_snapshots (
		device_id TEXT PRIMARY KEY REFERENCES devices(device_id) ON DELETE CASCADE,
		snapshot JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS credentials (
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		credential_id TEXT NOT NULL,
		public_key BYTEA NOT NULL,
		owner_guid TEXT NOT NULL DEFAULT '',
		device_guid TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		last_used_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (device_id, credential_id)
	);
	CREATE TABLE IF NOT EXISTS change_log (
		id UUID PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		op JSONB NOT NULL,
		clock BIGINT NOT NULL,
		origin TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		synced BOOLEAN NOT NULL DEFAULT FALSE
	);
	CREATE TABLE IF NOT EXISTS sync_state (
		id UUID PRIMARY KEY,
		device_id TEXT NOT NULL REFERENCES devices(device_id) ON DELETE CASCADE,
		peer_device_id TEXT NOT NULL,
		last_sync_at TIMESTAMPTZ NOT NULL,
		status TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);`,
}

// Migrate applies pending schema migrations. Call once when opening the
// store, before serving requests.
func Migrate(ctx context.Context, db DBTX) error {
	_, err := db.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return errors.StoreIO(err, "failed to create migrations table")
	}

	for i, stmt := range migrations {
		version := i + 1
		var applied bool
		err := db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`,
			version).Scan(&applied)
		if err != nil {
			return errors.StoreIO(err, "failed to check migration state")
		}
		if applied {
			continue
		}
		if _, err := db.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, errors.ErrCodeStoreIO, "failed to apply migration %d", version)
		}
		if _, err := db.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			return errors.StoreIO(err, "failed to record migration")
		}
		slog.Info("applied store migration", "version", version)
	}
	return nil
}

// PostgresStoreRepository implements StoreRepository on PostgreSQL. The
// owner index is the partial btree indexes on the devices table.
type PostgresStoreRepository struct {
	db DBTX
}

// NewPostgresStoreRepository creates a Postgres-backed store repository.
// The caller runs Migrate first.
func NewPostgresStoreRepository(db DBTX) *PostgresStoreRepository {
	return &PostgresStoreRepository{db: db}
}

// CreateDevice creates an unclaimed record set, idempotently
func (r *PostgresStoreRepository) CreateDevice(ctx context.Context, deviceID string) (RecordSet, error) {
	_, err := r.db.Exec(ctx,
		`INSERT INTO devices (device_id, created_at) VALUES ($1, now())
		 ON CONFLICT (device_id) DO NOTHING`, deviceID)
	if err != nil {
		return RecordSet{}, errors.StoreIO(err, "failed to create device")
	}
	return r.GetRecordSet(ctx, deviceID)
}

// GetRecordSet loads one device's record set
func (r *PostgresStoreRepository) GetRecordSet(ctx context.Context, deviceID string) (RecordSet, error) {
	var (
		set          RecordSet
		handle       *string
		guid         *string
		phone        *string
		lastVerified *time.Time
		stamps       []byte
	)

	row := r.db.QueryRow(ctx,
		`SELECT device_id, handle, guid, phone, created_at, last_verified_at,
		        display_name, trusted, clock, stamps
		 FROM devices WHERE device_id = $1`, deviceID)
	err := row.Scan(&set.Record.DeviceID, &handle, &guid, &phone,
		&set.Record.CreatedAt, &lastVerified,
		&set.Record.DisplayName, &set.Record.Trusted, &set.Clock, &stamps)
	if err == pgx.ErrNoRows {
		return RecordSet{}, errors.NotFound("device", deviceID)
	}
	if err != nil {
		return RecordSet{}, errors.StoreIO(err, "failed to load device")
	}
	if handle != nil {
		set.Record.Owner.Handle = *handle
	}
	if guid != nil {
		set.Record.Owner.GUID = *guid
	}
	if phone != nil {
		set.Record.Owner.Phone = *phone
	}
	if lastVerified != nil {
		set.Record.LastVerifiedAt = *lastVerified
	}
	if len(stamps) > 0 {
		if err := json.Unmarshal(stamps, &set.Stamps); err != nil {
			return RecordSet{}, errors.StoreIO(err, "corrupt clock stamps")
		}
	}

	if err := r.loadDependents(ctx, &set); err != nil {
		return RecordSet{}, err
	}
	return set, nil
}

func (r *PostgresStoreRepository) loadDependents(ctx context.Context, set *RecordSet) error {
	deviceID := set.Record.DeviceID

	rows, err := r.db.Query(ctx,
		`SELECT browser_id, browser_family, user_agent, added_at, last_used_at, pending
		 FROM browser_associations WHERE device_id = $1 ORDER BY added_at`, deviceID)
	if err != nil {
		return errors.StoreIO(err, "failed to load browser associations")
	}
	defer rows.Close()
	for rows.Next() {
		var b BrowserAssociation
		if err := rows.Scan(&b.BrowserID, &b.BrowserFamily, &b.UserAgent,
			&b.AddedAt, &b.LastUsedAt, &b.Pending); err != nil {
			return errors.StoreIO(err, "failed to scan browser association")
		}
		set.Browsers = append(set.Browsers, b)
	}
	rows.Close()

	rows, err = r.db.Query(ctx,
		`SELECT ip, user_agent, access_time FROM access_log
		 WHERE device_id = $1 ORDER BY access_time`, deviceID)
	if err != nil {
		return errors.StoreIO(err, "failed to load access log")
	}
	defer rows.Close()
	for rows.Next() {
		var a AccessLogEntry
		if err := rows.Scan(&a.IP, &a.UserAgent, &a.AccessTime); err != nil {
			return errors.StoreIO(err, "failed to scan access log entry")
		}
		set.AccessLog = append(set.AccessLog, a)
	}
	rows.Close()

	var snapData []byte
	err = r.db.QueryRow(ctx,
		`SELECT snapshot FROM fingerprint_snapshots WHERE device_id = $1`,
		deviceID).Scan(&snapData)
	if err != nil && err != pgx.ErrNoRows {
		return errors.StoreIO(err, "failed to load fingerprint snapshot")
	}
	if len(snapData) > 0 {
		var snap fingerprint.Snapshot
		if err := json.Unmarshal(snapData, &snap); err != nil {
			return errors.StoreIO(err, "corrupt fingerprint snapshot")
		}
		set.Snapshot = &snap
	}

	rows, err = r.db.Query(ctx,
		`SELECT credential_id, public_key, owner_guid, device_guid, created_at, last_used_at
		 FROM credentials WHERE device_id = $1 ORDER BY created_at`, deviceID)
	if err != nil {
		return errors.StoreIO(err, "failed to load credentials")
	}
	defer rows.Close()
	for rows.Next() {
		var c CredentialRecord
		if err := rows.Scan(&c.CredentialID, &c.PublicKey, &c.OwnerGUID,
			&c.DeviceGUID, &c.CreatedAt, &c.LastUsedAt); err != nil {
			return errors.StoreIO(err, "failed to scan credential")
		}
		set.Credentials = append(set.Credentials, c)
	}
	rows.Close()

	rows, err = r.db.Query(ctx,
		`SELECT id, op, clock, origin, created_at, synced FROM change_log
		 WHERE device_id = $1 ORDER BY clock`, deviceID)
	if err != nil {
		return errors.StoreIO(err, "failed to load change log")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e      ChangeLogEntry
			opData []byte
		)
		if err := rows.Scan(&e.ID, &opData, &e.Clock, &e.Origin, &e.CreatedAt, &e.Synced); err != nil {
			return errors.StoreIO(err, "failed to scan change log entry")
		}
		if err := json.Unmarshal(opData, &e.Op); err != nil {
			return errors.StoreIO(err, "corrupt change log operation")
		}
		set.ChangeLog = append(set.ChangeLog, e)
	}
	rows.Close()

	rows, err = r.db.Query(ctx,
		`SELECT id, peer_device_id, last_sync_at, status, detail FROM sync_state
		 WHERE device_id = $1 ORDER BY last_sync_at`, deviceID)
	if err != nil {
		return errors.StoreIO(err, "failed to load sync state")
	}
	defer rows.Close()
	for rows.Next() {
		var s SyncStateEntry
		if err := rows.Scan(&s.ID, &s.PeerDeviceID, &s.LastSyncAt, &s.Status, &s.Detail); err != nil {
			return errors.StoreIO(err, "failed to scan sync state entry")
		}
		set.SyncStates = append(set.SyncStates, s)
	}
	return rows.Err()
}

// PutRecordSet replaces a record set in one transaction. The partial
// indexes on devices keep the owner index transactional with the write.
func (r *PostgresStoreRepository) PutRecordSet(ctx context.Context, set RecordSet) error {
	if set.Record.DeviceID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "record set without device id")
	}

	if beginner, ok := r.db.(txBeginner); ok {
		tx, err := beginner.Begin(ctx)
		if err != nil {
			return errors.StoreIO(err, "failed to begin transaction")
		}
		defer tx.Rollback(ctx)

		if err := r.WithTx(tx).(*PostgresStoreRepository).putRecordSet(ctx, set); err != nil {
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return errors.StoreIO(err, "failed to commit record set")
		}
		return nil
	}

	// Already inside a caller-managed transaction
	return r.putRecordSet(ctx, set)
}

func (r *PostgresStoreRepository) putRecordSet(ctx context.Context, set RecordSet) error {
	deviceID := set.Record.DeviceID

	stamps, err := json.Marshal(set.Stamps)
	if err != nil {
		return errors.StoreIO(err, "failed to marshal clock stamps")
	}
	if set.Stamps == nil {
		stamps = []byte("{}")
	}

	var handle, guid, phone *string
	if set.Record.Owner.Handle != "" {
		handle = &set.Record.Owner.Handle
	}
	if set.Record.Owner.GUID != "" {
		guid = &set.Record.Owner.GUID
	}
	if set.Record.Owner.Phone != "" {
		phone = &set.Record.Owner.Phone
	}

	var lastVerified interface{}
	if !set.Record.LastVerifiedAt.IsZero() {
		lastVerified = set.Record.LastVerifiedAt
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO devices (device_id, handle, guid, phone, created_at, last_verified_at,
		                      display_name, trusted, clock, stamps)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (device_id) DO UPDATE SET
		   handle = EXCLUDED.handle, guid = EXCLUDED.guid, phone = EXCLUDED.phone,
		   last_verified_at = EXCLUDED.last_verified_at,
		   display_name = EXCLUDED.display_name, trusted = EXCLUDED.trusted,
		   clock = EXCLUDED.clock, stamps = EXCLUDED.stamps`,
		deviceID, handle, guid, phone, set.Record.CreatedAt, lastVerified,
		set.Record.DisplayName, set.Record.Trusted, set.Clock, stamps)
	if err != nil {
		return errors.StoreIO(err, "failed to upsert device")
	}

	for _, table := range []string{"browser_associations", "access_log",
		"fingerprint_snapshots", "credentials", "change_log", "sync_state"} {
		if _, err := r.db.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE device_id = $1`, table), deviceID); err != nil {
			return errors.Wrapf(err, errors.ErrCodeStoreIO, "failed to clear %s", table)
		}
	}

	for _, b := range set.Browsers {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO browser_associations
			   (device_id, browser_id, browser_family, user_agent, added_at, last_used_at, pending)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			deviceID, b.BrowserID, b.BrowserFamily, b.UserAgent, b.AddedAt, b.LastUsedAt, b.Pending); err != nil {
			return errors.StoreIO(err, "failed to insert browser association")
		}
	}
	for _, a := range set.AccessLog {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO access_log (device_id, ip, user_agent, access_time)
			 VALUES ($1, $2, $3, $4)`,
			deviceID, a.IP, a.UserAgent, a.AccessTime); err != nil {
			return errors.StoreIO(err, "failed to insert access log entry")
		}
	}
	if set.Snapshot != nil {
		snapData, err := json.Marshal(set.Snapshot)
		if err != nil {
			return errors.StoreIO(err, "failed to marshal fingerprint snapshot")
		}
		if _, err := r.db.Exec(ctx,
			`INSERT INTO fingerprint_snapshots (device_id, snapshot) VALUES ($1, $2)`,
			deviceID, snapData); err != nil {
			return errors.StoreIO(err, "failed to insert fingerprint snapshot")
		}
	}
	for _, c := range set.Credentials {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO credentials
			   (device_id, credential_id, public_key, owner_guid, device_guid, created_at, last_used_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			deviceID, c.CredentialID, c.PublicKey, c.OwnerGUID, c.DeviceGUID,
			c.CreatedAt, c.LastUsedAt); err != nil {
			return errors.StoreIO(err, "failed to insert credential")
		}
	}
	for _, e := range set.ChangeLog {
		opData, err := json.Marshal(e.Op)
		if err != nil {
			return errors.StoreIO(err, "failed to marshal change log operation")
		}
		if _, err := r.db.Exec(ctx,
			`INSERT INTO change_log (id, device_id, op, clock, origin, created_at, synced)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			e.ID, deviceID, opData, e.Clock, e.Origin, e.CreatedAt, e.Synced); err != nil {
			return errors.StoreIO(err, "failed to insert change log entry")
		}
	}
	for _, s := range set.SyncStates {
		if _, err := r.db.Exec(ctx,
			`INSERT INTO sync_state (id, device_id, peer_device_id, last_sync_at, status, detail)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			s.ID, deviceID, s.PeerDeviceID, s.LastSyncAt, s.Status, s.Detail); err != nil {
			return errors.StoreIO(err, "failed to insert sync state entry")
		}
	}
	return nil
}

// ListDeviceIDs enumerates every stored device id
func (r *PostgresStoreRepository) ListDeviceIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT device_id FROM devices ORDER BY device_id`)
	if err != nil {
		return nil, errors.StoreIO(err, "failed to list devices")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.StoreIO(err, "failed to scan device id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// FindDeviceIDsByOwner resolves owner → device ids through the indexed
// identity columns
func (r *PostgresStoreRepository) FindDeviceIDsByOwner(ctx context.Context, ref OwnerRef) ([]string, error) {
	var column string
	switch ref.Kind {
	case OwnerRefHandle:
		column = "handle"
	case OwnerRefGUID:
		column = "guid"
	case OwnerRefPhone:
		column = "phone"
	default:
		return nil, errors.InvalidInput("owner ref", "unknown kind")
	}

	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT device_id FROM devices WHERE %s = $1`, column), ref.Value)
	if err != nil {
		return nil, errors.StoreIO(err, "failed to query owner index")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.StoreIO(err, "failed to scan device id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRecordSet removes a record set; dependent rows cascade
func (r *PostgresStoreRepository) DeleteRecordSet(ctx context.Context, deviceID string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return errors.StoreIO(err, "failed to delete device")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("device", deviceID)
	}
	return nil
}

// WithTx returns a repository bound to the given pgx transaction
func (r *PostgresStoreRepository) WithTx(tx interface{}) StoreRepository {
	if pgxTx, ok := tx.(DBTX); ok {
		return &PostgresStoreRepository{db: pgxTx}
	}
	return r
}
