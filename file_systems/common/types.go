// Package common contains the fundamental types and the sector-level building
// blocks shared by file system implementations: block-addressed I/O on top of
// a stream, and bitmap allocators.
package common

// BlockID is the index of a block on a device, counted from the beginning of
// the image.
type BlockID uint

// DefaultBytesPerBlock is the sector size of every image this module handles.
const DefaultBytesPerBlock = 512

// Truncator is an interface for objects that support a Truncate() method. This
// method must behave just like [os.File.Truncate].
type Truncator interface {
	Truncate(size int64) error
}
