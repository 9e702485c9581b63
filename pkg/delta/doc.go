// Package delta encodes successive state snapshots as either a full snapshot
// or the list of entities that changed since the previous emission.
//
// A snapshot is a dense array of fixed-size entities. The Encoder compares
// each new snapshot with the last one it emitted, collects the dirty indices,
// and sends a diff while the dirty fraction stays below Threshold. The first
// update, any change of layout, and updates requested with ForceFull are
// always full.
//
// The receiving side keeps a Mirror. Applying every emitted update in order
// to a Mirror reproduces the producer's state exactly.
package delta
