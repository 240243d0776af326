// Package walrecord defines the structured log records for
// create/drop/mount/unmount/alter (SPEC_FULL.md §6.3). PagedFile emits
// the create/drop/mount/unmount kinds; nothing emits KindAlter. The core
// never persists these itself; it hands them to a Sink.
package walrecord

import "time"

// Kind identifies which structural event a Record describes.
type Kind string

const (
	KindCreate  Kind = "create"
	KindDrop    Kind = "drop"
	KindMount   Kind = "mount"
	KindUnmount Kind = "unmount"
	KindAlter   Kind = "alter"
)

// Field is one stably-ordered, type-tagged payload field. Ordering of
// Fields is part of the durable log format, so Record.Fields is a slice
// rather than a map.
type Field struct {
	Name  string
	Type  string // e.g. "area_id", "path", "column_def"
	Value string
}

// Record is one structured log entry. ObjectID/ParentID/Name identify
// the catalog object the event concerns; Fields carries per-kind
// payload (column definitions, constraint definitions, area ids and
// paths).
type Record struct {
	Timestamp time.Time
	Kind      Kind
	ObjectID  uint64
	ParentID  uint64
	Name      string
	Fields    []Field
}

// Sink persists Records. The core only ever calls Append; rotation,
// compression and retention are a Sink's concern, not the core's.
type Sink interface {
	Append(r Record) error
}

// NopSink discards every record; used where no durable log is wired.
type NopSink struct{}

// Append implements Sink.
func (NopSink) Append(Record) error { return nil }
