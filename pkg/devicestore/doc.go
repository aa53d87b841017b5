// Package devicestore provides durable, isolated per-device record sets for
// the device resolution engine.
//
// Each physical device owns one RecordSet: its DeviceRecord, browser
// associations, access log, latest fingerprint snapshot, WebAuthn
// credentials, change log and sync audit trail. The record set is both the
// persistence unit and the replication unit; there is no central devices
// table.
//
// # Overview
//
// The package provides:
//   - RecordSet types and the StoreRepository interface
//   - In-memory, file-per-device and PostgreSQL repositories
//   - An explicit owner index (identity field → device ids); owner lookups
//     never scan record sets
//   - StoreService: domain operations serialized per device id, with each
//     mutation committed atomically alongside its change log entry
//
// # Basic Usage
//
//	repo, err := devicestore.NewStoreRepository(ctx, "file", devicestore.RepositoryConfig{
//		DataDir: "./data/devices",
//	})
//	service := devicestore.NewStoreService(repo)
//
//	// First contact: create an unclaimed record set
//	set, err := service.CreateDevice(ctx, seedToken)
//
//	// A verification flow binds the owner identity
//	set, err = service.Claim(ctx, deviceID, devicestore.OwnerIdentity{
//		Handle: "@alice",
//		GUID:   userGUID,
//		Phone:  "+447700900000",
//	})
//
//	// Track browser installations and accesses
//	service.AddBrowser(ctx, deviceID, browserToken, userAgent, true)
//	service.RecordAccess(ctx, deviceID, clientIP, userAgent)
//
// # Consistency
//
// Mutations of one device are serialized through a per-device lock, and a
// mutation plus its change log append commit as one unit (atomic rename for
// the file backend, a transaction for Postgres). Claim and credential
// registration append change log entries consumed by the replication
// package; browser associations, snapshots and the access log stay local to
// their device.
//
// # Related Packages
//
//   - pkg/resolver - device resolution over the store
//   - pkg/replication - change log fan-out across an owner's devices
package devicestore
