// Package hostiface describes the collaborators the B+ tree core treats
// as external (SPEC_FULL.md §6): the host's buffer-pool-backed physical
// file, its typed Data hierarchy, and its catalog handles. The core only
// ever sees these as interfaces; it never opens the catalog's own
// tables and never persists log records itself.
package hostiface

import "context"

// FixMode selects how a page is latched for the duration of a pin,
// mirroring SPEC_FULL.md §5.
type FixMode int

const (
	// ReadOnly pages are never dirtied.
	ReadOnly FixMode = iota
	// WriteDiscardable pages may be rolled back page-by-page by
	// RecoverPage; used for ordinary Update-mode files.
	WriteDiscardable
	// WriteBatch pages can only reach durability via Flush; RecoverAll
	// behaves like FlushAll for files opened in this mode.
	WriteBatch
)

// OpenMode selects the mode a PhysicalFile is opened in
// (SPEC_FULL.md §4.1).
type OpenMode int

const (
	OpenReadOnly OpenMode = iota
	OpenUpdate
	OpenBatch
)

// PageID identifies a page within a PhysicalFile. Zero is Undefined.
type PageID uint32

// Undefined is the sentinel PageID meaning "no page."
const Undefined PageID = 0

// Page is a stable, fixed-size in-memory view of one physical page.
// Bytes written to Data are visible to the host once the matching
// DetachPage call with dirty=true occurs.
type Page interface {
	ID() PageID
	Data() []byte
}

// PhysicalFile is the host buffer-pool-backed file the core adapts
// through PagedFile (SPEC_FULL.md §6.1). Implementations must return a
// stable Page reference valid until the matching DetachPage call, and
// RecoverPage must undo dirty modifications made under a Discardable
// fix.
type PhysicalFile interface {
	Create(ctx context.Context) error
	Destroy(ctx context.Context) error
	Mount(ctx context.Context) error
	Unmount(ctx context.Context) error
	Flush(ctx context.Context) error

	StartBackup(ctx context.Context, restorable bool) error
	EndBackup(ctx context.Context) error
	Recover(ctx context.Context, timestamp int64) error
	Restore(ctx context.Context, timestamp int64) error

	AttachPage(ctx context.Context, id PageID, mode FixMode) (Page, error)
	VerifyPage(ctx context.Context, id PageID, mode FixMode, progress *VerifyProgress) (Page, error)
	AllocatePage(ctx context.Context, mode FixMode) (Page, error)

	FreePage(p Page) error
	RecoverPage(p Page) error
	DetachPage(p Page, dirty bool) error
	DetachPageAll() error
	RecoverPageAll() error

	PageDataSize() int
	SetBatch(batch bool)
}

// VerifyProgress accumulates findings from a verify pass
// (SPEC_FULL.md §4.4.F, §7).
type VerifyProgress struct {
	Findings []string
	Continue bool
}

// Append records a finding without deciding whether to abort; the
// caller consults Continue afterward.
func (p *VerifyProgress) Append(finding string) {
	p.Findings = append(p.Findings, finding)
}

// DataType enumerates the scalar kinds the core's Codec knows how to
// pack, matching SPEC_FULL.md §4.5.
type DataType int

const (
	TypeInt DataType = iota
	TypeUInt
	TypeInt64
	TypeDouble
	TypeDecimal
	TypeCharString
	TypeNoPadCharString
	TypeUnicodeString
	TypeNoPadUnicodeString
	TypeDateTime
	TypeLanguageSet
	TypeObjectID
)

// Data is the host's polymorphic typed-value hierarchy
// (SPEC_FULL.md §6.2). The core reads and writes through Data and never
// interprets its internals beyond these accessors.
type Data interface {
	IsNull() bool
	Type() DataType
	Int() int32
	UInt() uint32
	Int64() int64
	Double() float64
	String() string
	Bytes() []byte
}

// CatalogHandle is an opaque, pre-resolved schema object
// (SPEC_FULL.md §6.4): the core never opens the catalog's own tables.
type CatalogHandle interface {
	ID() uint64
	Name() string
	TypeName() string
}
