package unixv6

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"time"

	"github.com/dargueta/v6fs"
	c "github.com/dargueta/v6fs/file_systems/common"
	"github.com/hashicorp/go-multierror"
)

// FormatOptions describes the geometry of a new image.
type FormatOptions struct {
	// TotalBlocks is the size of the image, in 512-byte sectors.
	TotalBlocks uint
	// TotalInodes is rounded up to the nearest multiple of [InodesPerSector].
	TotalInodes uint
	// Timestamp is recorded in the superblock and the root directory. Defaults
	// to the current time.
	Timestamp time.Time
	Logger    *slog.Logger
}

// Geometry computes the superblock for a new image, failing if the requested
// sizes don't fit the on-disk format or leave no room for data.
func (options *FormatOptions) Geometry() (Superblock, error) {
	if options.TotalInodes == 0 {
		return Superblock{}, v6fs.ErrInvalidArgument.WithMessage(
			"need at least one inode for the root directory")
	}
	if options.TotalBlocks > math.MaxUint16 {
		return Superblock{}, v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("at most %d blocks are supported, got %d", math.MaxUint16, options.TotalBlocks))
	}

	inodeSectors := (options.TotalInodes + InodesPerSector - 1) / InodesPerSector
	if inodeSectors > MaxInodeSectors {
		return Superblock{}, v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"at most %d inodes are supported, got %d",
				MaxInodeCapacity,
				options.TotalInodes))
	}
	inodeStart := uint(SuperblockSector) + 1
	blockStart := inodeStart + inodeSectors

	// Boot sector, superblock, inode area, and at least one data block for the
	// root directory.
	if options.TotalBlocks < blockStart+1 {
		return Superblock{}, v6fs.ErrNoSpaceOnDevice.WithMessage(
			fmt.Sprintf(
				"not enough blocks: %d inodes need at least %d blocks, got %d",
				options.TotalInodes,
				blockStart+1,
				options.TotalBlocks))
	}

	timestamp := options.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return Superblock{
		InodeAreaSize: uint16(inodeSectors),
		TotalBlocks:   uint16(options.TotalBlocks),
		InodeStart:    uint16(inodeStart),
		BlockStart:    uint16(blockStart),
		ModifiedAt:    SerializeTimestamp(timestamp),
	}, nil
}

// Format creates (or overwrites) the image file at `path`.
func Format(path string, options FormatOptions) error {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return v6fs.ErrIOFailed.WithMessage(
			fmt.Sprintf("can't create image %q", path)).Wrap(err)
	}

	var result error
	if err = FormatStream(file, options); err != nil {
		result = multierror.Append(result, err)
	}
	if err = file.Close(); err != nil {
		result = multierror.Append(result, v6fs.ErrIOFailed.Wrap(err))
	}
	return result
}

// FormatStream writes an empty file system to `stream`. Streams that can be
// truncated are resized to fit; any other stream must already be at least
// `options.TotalBlocks` sectors long.
func FormatStream(stream io.ReadWriteSeeker, options FormatOptions) error {
	logger := options.Logger
	if logger == nil {
		logger = discardLogger()
	}

	superblock, err := options.Geometry()
	if err != nil {
		return err
	}

	device := c.NewBlockStream(stream, 0)
	err = device.Resize(options.TotalBlocks)
	if err != nil {
		return err
	}

	// Every sector is written out explicitly so that nothing from a previous
	// image survives.
	zeroes := make([]byte, SectorSize)
	for i := uint(0); i < options.TotalBlocks; i++ {
		err = device.WriteSector(c.BlockID(i), zeroes)
		if err != nil {
			return err
		}
	}

	sector := make([]byte, SectorSize)
	sector[BootMagicOffset] = BootMagic
	err = device.WriteSector(c.BlockID(BootSector), sector)
	if err != nil {
		return err
	}

	sector = make([]byte, SectorSize)
	if err = EncodeSuperblock(&superblock, sector); err != nil {
		return err
	}
	err = device.WriteSector(c.BlockID(SuperblockSector), sector)
	if err != nil {
		return err
	}

	// The root directory is empty, but its first sector is set aside anyway.
	rootInode := Inode{
		Mode:         DefaultDirectoryMode,
		NLink:        1,
		Addr:         [AddressListLength]BlockNum{BlockNum(superblock.BlockStart)},
		AccessedTime: superblock.ModifiedAt,
		ModifiedTime: superblock.ModifiedAt,
	}

	sector = make([]byte, SectorSize)
	rootSector := BlockNum(superblock.InodeStart) + BlockNum(RootInumber/InodesPerSector)
	if err = EncodeInode(&rootInode, sector, int(RootInumber%InodesPerSector)); err != nil {
		return err
	}
	err = device.WriteSector(c.BlockID(rootSector), sector)
	if err != nil {
		return err
	}

	logger.Debug(
		"formatted image",
		"blocks", superblock.TotalBlocks,
		"inode_sectors", superblock.InodeAreaSize,
		"inode_capacity", superblock.InodeCapacity(),
		"first_data_block", superblock.BlockStart)
	return nil
}
