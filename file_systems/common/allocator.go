// Bitmap allocator

package common

import (
	"fmt"
	"strings"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/v6fs"
)

// Allocator tracks which IDs in the inclusive range [Min(), Max()] are in use.
//
// Searches for a free ID start at a cursor that only moves forward, except when
// an ID before it is freed. A byte of the bitmap with all bits set is skipped in
// one step.
type Allocator struct {
	bits   bitmap.Bitmap
	min    uint64
	max    uint64
	cursor uint64
}

// NewAllocator creates an allocator for IDs in [min, max] with every ID free.
func NewAllocator(min, max uint64) (*Allocator, error) {
	if max < min {
		return nil, v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("invalid allocator range: max %d < min %d", max, min))
	}

	return &Allocator{
		bits: bitmap.New(int(max - min + 1)),
		min:  min,
		max:  max,
	}, nil
}

func (alloc *Allocator) Min() uint64 {
	return alloc.min
}

func (alloc *Allocator) Max() uint64 {
	return alloc.max
}

// Cursor returns the ID the next search for a free ID will begin at.
func (alloc *Allocator) Cursor() uint64 {
	return alloc.min + alloc.cursor
}

func (alloc *Allocator) inRange(id uint64) bool {
	return id >= alloc.min && id <= alloc.max
}

// Test returns true if `id` is marked as in use.
func (alloc *Allocator) Test(id uint64) (bool, error) {
	if !alloc.inRange(id) {
		return false, v6fs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("%d not in range [%d, %d]", id, alloc.min, alloc.max))
	}
	return alloc.bits.Get(int(id - alloc.min)), nil
}

// Set marks `id` as in use. IDs outside the range are ignored.
func (alloc *Allocator) Set(id uint64) {
	if alloc.inRange(id) {
		alloc.bits.Set(int(id-alloc.min), true)
	}
}

// Clear marks `id` as free. IDs outside the range are ignored.
func (alloc *Allocator) Clear(id uint64) {
	if !alloc.inRange(id) {
		return
	}

	index := id - alloc.min
	alloc.bits.Set(int(index), false)
	if index < alloc.cursor {
		alloc.cursor = index
	}
}

// FindNextFree returns the lowest free ID at or after the cursor, without
// marking it as used. The cursor is left on the returned ID.
func (alloc *Allocator) FindNextFree() (uint64, error) {
	lastIndex := alloc.max - alloc.min
	data := alloc.bits.Data(false)

	for alloc.cursor <= lastIndex {
		byteIndex := alloc.cursor / 8
		if data[byteIndex] == 0xff {
			alloc.cursor = (byteIndex + 1) * 8
			continue
		}

		if !alloc.bits.Get(int(alloc.cursor)) {
			return alloc.min + alloc.cursor, nil
		}
		alloc.cursor++
	}

	alloc.cursor = lastIndex
	return 0, v6fs.ErrNoSpaceOnDevice.WithMessage(
		fmt.Sprintf("all IDs in [%d, %d] are in use", alloc.min, alloc.max))
}

// Allocate finds the next free ID and marks it as used.
func (alloc *Allocator) Allocate() (uint64, error) {
	id, err := alloc.FindNextFree()
	if err != nil {
		return 0, err
	}
	alloc.Set(id)
	return id, nil
}

// CountUsed returns the number of IDs currently marked as in use.
func (alloc *Allocator) CountUsed() uint64 {
	count := uint64(0)
	for i := 0; i <= int(alloc.max-alloc.min); i++ {
		if alloc.bits.Get(i) {
			count++
		}
	}
	return count
}

// String dumps the bitmap, eight IDs per group and sixty-four per line.
func (alloc *Allocator) String() string {
	builder := strings.Builder{}
	fmt.Fprintf(
		&builder,
		"range [%d, %d], cursor at %d\n",
		alloc.min,
		alloc.max,
		alloc.Cursor())

	lastIndex := int(alloc.max - alloc.min)
	for i := 0; i <= lastIndex; i++ {
		if alloc.bits.Get(i) {
			builder.WriteByte('1')
		} else {
			builder.WriteByte('0')
		}

		if i == lastIndex || i%64 == 63 {
			builder.WriteByte('\n')
		} else if i%8 == 7 {
			builder.WriteByte(' ')
		}
	}
	return builder.String()
}
