package statseg

import "github.com/simeonmiteff/statseg/pkg/decoder"

// SnapshotEntry pairs one matched entry's name with its decoded value.
// ViaSymlink is true when the directory slot at Name was itself a SYMLINK
// entry, so the displayed name and the decoded value's origin differ; the
// projected target's own index/element are recorded on Value's
// SymlinkDirIndex/SymlinkElementIndex.
type SnapshotEntry struct {
	Name       string
	Value      decoder.Value
	ViaSymlink bool
}

// Snapshot is the decoded result of one coherent Dump: every entry matched
// by the Dir it was dumped from, as they stood at Epoch.
type Snapshot struct {
	Epoch   uint64
	Entries []SnapshotEntry
}
