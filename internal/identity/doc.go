// Package identity maps external patient keys to canonical identities and
// merges identities.
//
// Every known key has a versioned live pointer (entity type live_pointer).
// A canonical identity points at itself; a retired one points at the
// identity that absorbed it. Following pointers always ends at a canonical
// identity: Merge redirects every pointer that resolves to the retired
// identity straight to the survivor, so chains stay one hop long and no
// cycle can form. Pointer changes are versioned rows, never overwrites,
// and every merge is appended to the merge log.
package identity
