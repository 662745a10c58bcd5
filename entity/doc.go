// Package entity defines the runtime data model shared by the caches and the
// store: records as field maps, schemas describing how an entity type is
// persisted, and the filters used to look records up by field value.
//
// Field values are normalised to a small set of Go types (string, int64,
// float64, bool and decoded JSON) so records read back from either SQL dialect
// compare equal to the records that were written.
package entity
