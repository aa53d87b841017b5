// Package fingerprint normalizes and compares hardware/browser snapshots for
// device recognition.
//
// A Snapshot is the latest captured signal bag for a device. Compare decides
// whether two snapshots plausibly describe the same physical machine:
//
//   - Same browser family: one exact match among the hard identifiers
//     (CPU model, hardware fingerprint, canvas fingerprint, WebGL
//     fingerprint, memory size within 0.5 GB) is decisive.
//   - Different families: a weighted score over the signals present in both
//     snapshots, with browser-pair-specific tolerances, because rendering
//     fingerprints and reported ratios drift between engines.
//
// Comparison is pure: missing fields are excluded from both sides of the
// score, never coerced into a zero-valued match or a crash.
//
// # Basic Usage
//
//	result := fingerprint.Compare(stored, inbound)
//	if result.SameDevice {
//		// same physical machine, different browser is fine
//	}
package fingerprint
