package unixv6

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dargueta/v6fs"
	c "github.com/dargueta/v6fs/file_systems/common"
	"github.com/hashicorp/go-multierror"
)

// MountOptions controls how an image is mounted.
type MountOptions struct {
	// ReadOnly makes every operation that would modify the image fail with
	// [v6fs.ErrReadOnlyFileSystem]. Images whose superblock has the read-only
	// flag set are always mounted read-only.
	ReadOnly bool
	// Logger receives diagnostics. If nil, nothing is logged.
	Logger *slog.Logger
}

// FileSystem is a mounted image. All state for the image lives here; nothing is
// shared between two FileSystems, even for the same image.
//
// A FileSystem is not safe for concurrent use.
type FileSystem struct {
	Superblock Superblock
	device     *c.BlockStream
	inodeMap   *c.Allocator
	blockMap   *c.Allocator
	readOnly   bool
	logger     *slog.Logger
}

// FSStat gives a summary of space usage.
type FSStat struct {
	BlockSize   uint
	TotalBlocks uint
	DataBlocks  uint
	BlocksFree  uint
	TotalInodes uint
	InodesFree  uint
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Mount opens the image at `path` and mounts it.
func Mount(path string, options MountOptions) (*FileSystem, error) {
	flags := os.O_RDWR
	if options.ReadOnly {
		flags = os.O_RDONLY
	}

	file, err := os.OpenFile(path, flags, 0)
	if err != nil {
		return nil, v6fs.ErrIOFailed.WithMessage(
			fmt.Sprintf("can't open image %q", path)).Wrap(err)
	}

	fs, err := MountStream(file, options)
	if err != nil {
		file.Close()
		return nil, err
	}
	return fs, nil
}

// MountStream mounts an image from an arbitrary stream. The size of the device
// is inferred from the size of the stream. If the stream implements [io.Closer]
// it's closed on [FileSystem.Unmount].
func MountStream(stream io.ReadWriteSeeker, options MountOptions) (*FileSystem, error) {
	logger := options.Logger
	if logger == nil {
		logger = discardLogger()
	}

	device, err := c.NewBlockStreamWithInferredSize(stream)
	if err != nil {
		return nil, err
	}
	if device.TotalBlocks <= uint(SuperblockSector) {
		return nil, v6fs.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf("image is too small: %d blocks", device.TotalBlocks))
	}

	sector := make([]byte, SectorSize)
	err = device.ReadSector(c.BlockID(BootSector), sector)
	if err != nil {
		return nil, err
	}
	if sector[BootMagicOffset] != BootMagic {
		return nil, v6fs.ErrInvalidFileSystem.WithMessage(
			fmt.Sprintf(
				"bad boot sector: expected magic %#02x at offset %d, got %#02x",
				BootMagic,
				BootMagicOffset,
				sector[BootMagicOffset]))
	}

	err = device.ReadSector(c.BlockID(SuperblockSector), sector)
	if err != nil {
		return nil, err
	}
	superblock, err := DecodeSuperblock(sector)
	if err != nil {
		return nil, err
	}
	err = superblock.Validate(device.TotalBlocks)
	if err != nil {
		return nil, err
	}

	inodeMap, err := c.NewAllocator(uint64(RootInumber), uint64(superblock.InodeCapacity()-1))
	if err != nil {
		return nil, v6fs.ErrFileSystemCorrupted.Wrap(err)
	}
	blockMap, err := c.NewAllocator(
		uint64(superblock.BlockStart), uint64(superblock.TotalBlocks)-1)
	if err != nil {
		return nil, v6fs.ErrFileSystemCorrupted.Wrap(err)
	}

	fs := &FileSystem{
		Superblock: superblock,
		device:     device,
		inodeMap:   inodeMap,
		blockMap:   blockMap,
		readOnly:   options.ReadOnly || superblock.ReadOnly != 0,
		logger:     logger,
	}

	err = fs.rebuildAllocationMaps()
	if err != nil {
		return nil, err
	}

	logger.Debug(
		"mounted image",
		"blocks", superblock.TotalBlocks,
		"inode_sectors", superblock.InodeAreaSize,
		"inodes_used", inodeMap.CountUsed(),
		"blocks_used", blockMap.CountUsed(),
		"read_only", fs.readOnly)
	return fs, nil
}

// Unmount releases the allocation maps and closes the underlying stream. The
// FileSystem must not be used afterwards.
func (fs *FileSystem) Unmount() error {
	var result error

	if fs.device == nil {
		result = multierror.Append(
			result, v6fs.ErrInvalidArgument.WithMessage("file system isn't mounted"))
	} else if err := fs.device.Close(); err != nil {
		result = multierror.Append(result, v6fs.ErrIOFailed.Wrap(err))
	}

	fs.inodeMap = nil
	fs.blockMap = nil
	fs.device = nil
	return result
}

func (fs *FileSystem) IsReadOnly() bool {
	return fs.readOnly
}

// Stat summarizes the current allocation state.
func (fs *FileSystem) Stat() FSStat {
	dataBlocks := uint(fs.blockMap.Max() - fs.blockMap.Min() + 1)
	totalInodes := uint(fs.inodeMap.Max() - fs.inodeMap.Min() + 1)

	return FSStat{
		BlockSize:   SectorSize,
		TotalBlocks: uint(fs.Superblock.TotalBlocks),
		DataBlocks:  dataBlocks,
		BlocksFree:  dataBlocks - uint(fs.blockMap.CountUsed()),
		TotalInodes: totalInodes,
		InodesFree:  totalInodes - uint(fs.inodeMap.CountUsed()),
	}
}

// InodeMap gives read access to the inode allocation map.
func (fs *FileSystem) InodeMap() *c.Allocator {
	return fs.inodeMap
}

// BlockMap gives read access to the data block allocation map.
func (fs *FileSystem) BlockMap() *c.Allocator {
	return fs.blockMap
}

// rebuildAllocationMaps reconstructs both allocation maps by walking the entire
// inode area. Anything that can't be read is assumed to be in use.
func (fs *FileSystem) rebuildAllocationMaps() error {
	sector := make([]byte, SectorSize)

	for i := uint16(0); i < fs.Superblock.InodeAreaSize; i++ {
		sectorID := BlockNum(fs.Superblock.InodeStart + i)
		firstInumber := uint64(i) * InodesPerSector

		err := fs.readBlock(sectorID, sector)
		var inodes [InodesPerSector]Inode
		if err == nil {
			inodes, err = DecodeInodeSector(sector)
		}
		if err != nil {
			fs.logger.Warn(
				"unreadable inode sector, assuming all its inodes are in use",
				"sector", sectorID,
				"error", err)
			for slot := uint64(0); slot < InodesPerSector; slot++ {
				fs.inodeMap.Set(firstInumber + slot)
			}
			continue
		}

		for slot := range inodes {
			inumber := Inumber(firstInumber + uint64(slot))
			if inumber == 0 || !inodes[slot].IsAllocated() {
				continue
			}
			fs.inodeMap.Set(uint64(inumber))
			fs.markInodeBlocks(inumber, &inodes[slot])
		}
	}
	return nil
}

// markInodeBlocks marks every sector referenced by an inode as in use,
// including the indirect sectors of large files.
func (fs *FileSystem) markInodeBlocks(inumber Inumber, inode *Inode) {
	size := inode.Size()
	if size > LargeFileMaxSize {
		fs.logger.Warn(
			"inode is larger than the maximum file size, not marking its blocks",
			"inumber", inumber,
			"size", size)
		return
	}

	sectorCount := inode.SectorCount()
	if inode.IsLarge() {
		indirectCount := (sectorCount + AddressesPerSector - 1) / AddressesPerSector
		for slot := uint32(0); slot < indirectCount; slot++ {
			fs.blockMap.Set(uint64(inode.Addr[slot]))
		}
	}

	for offset := uint32(0); offset < sectorCount; offset++ {
		sector, err := fs.FindSector(inode, offset)
		if err != nil {
			fs.logger.Warn(
				"can't resolve sector of file",
				"inumber", inumber,
				"offset", offset,
				"error", err)
			continue
		}
		fs.blockMap.Set(uint64(sector))
	}
}

// Raw sector access -----------------------------------------------------------

func (fs *FileSystem) readBlock(block BlockNum, buffer []byte) error {
	return fs.device.ReadSector(c.BlockID(block), buffer)
}

func (fs *FileSystem) writeBlock(block BlockNum, data []byte) error {
	if err := fs.checkWritable(); err != nil {
		return err
	}
	return fs.device.WriteSector(c.BlockID(block), data)
}

func (fs *FileSystem) checkWritable() error {
	if fs.readOnly {
		return v6fs.ErrReadOnlyFileSystem
	}
	return nil
}

// allocateBlock reserves a free data block.
func (fs *FileSystem) allocateBlock() (BlockNum, error) {
	block, err := fs.blockMap.Allocate()
	if err != nil {
		return 0, v6fs.ErrNoSpaceOnDevice.WithMessage("no free data blocks")
	}
	return BlockNum(block), nil
}

// releaseBlock returns a block that was allocated but never got referenced by
// an inode.
func (fs *FileSystem) releaseBlock(block BlockNum) {
	fs.blockMap.Clear(uint64(block))
}
