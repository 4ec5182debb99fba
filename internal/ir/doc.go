// Package ir holds the shared vocabulary of admitlog: decoded events, the
// versioned facts derived from them, the processing error taxonomy, and
// the canonical JSON and hashing used for fingerprints.
//
// All other internal packages import ir; ir imports nothing internal.
//
// Key constraints:
//   - Times are UTC, truncated to microseconds (see Normalize)
//   - No floats in canonical values; timestamps hash as unix microseconds
//   - All JSON tags use snake_case
package ir
