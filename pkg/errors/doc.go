// Package errors provides structured error handling with error codes for the
// device resolution engine.
//
// All services return *Error values carrying a typed ErrorCode, a message and
// an optional wrapped cause. The external HTTP layer maps codes to status
// codes with HTTPStatusCode; the engine itself never writes HTTP responses.
//
// # Basic Usage
//
//	import "github.com/zoeemmanuel/superappauth-sub001/pkg/errors"
//
//	// Create a simple error
//	err := errors.New(errors.ErrCodeDeviceNotFound, "device not found")
//
//	// Wrap a storage failure
//	err := errors.StoreIO(readErr, "failed to load device record set")
//
//	// Inspect
//	if errors.IsCode(err, errors.ErrCodeStoreIO) {
//		// skip this candidate, continue the scan
//	}
//
// # Error Taxonomy
//
// The resolution pipeline distinguishes five failure families:
//
//   - ErrCodeValidationFailed / ErrCodeInvalidInput: malformed tokens or
//     headers, rejected before any store access
//   - ErrCodeSecurityBoundary: header identity inconsistent with the stored
//     bound identity; resolved as no-match, never exposed
//   - ErrCodeStoreIO: unreadable or corrupt persistence
//   - ErrCodeReplicationFailed: a sibling apply failed; the entry stays
//     unsynced for the next pass
//   - ErrCodeTimeout: resolution exceeded its deadline; surfaced to the
//     caller as a verification-required decision
package errors
