package unixv6

import (
	"fmt"

	"github.com/dargueta/v6fs"
)

// InodeSummary is one row of an inode table listing.
type InodeSummary struct {
	Inumber Inumber `csv:"inumber"`
	Type    string  `csv:"type"`
	Mode    string  `csv:"mode"`
	Links   uint8   `csv:"links"`
	UID     uint8   `csv:"uid"`
	GID     uint8   `csv:"gid"`
	Size    uint32  `csv:"size"`
	Large   bool    `csv:"large"`
}

// inodeLocation gives the sector holding inode `inumber` and the index of its
// record within that sector.
func (fs *FileSystem) inodeLocation(inumber Inumber) (BlockNum, int, error) {
	if inumber < RootInumber || uint(inumber) >= fs.Superblock.InodeCapacity() {
		return 0, 0, v6fs.ErrInodeOutOfRange.WithMessage(
			fmt.Sprintf(
				"inode %d not in range [%d, %d)",
				inumber,
				RootInumber,
				fs.Superblock.InodeCapacity()))
	}

	sector := BlockNum(fs.Superblock.InodeStart) + BlockNum(inumber/InodesPerSector)
	return sector, int(inumber % InodesPerSector), nil
}

// ReadInode returns the inode with the given number. It fails with
// [v6fs.ErrUnallocatedInode] if that inode isn't in use.
func (fs *FileSystem) ReadInode(inumber Inumber) (Inode, error) {
	sectorID, slot, err := fs.inodeLocation(inumber)
	if err != nil {
		return Inode{}, err
	}

	sector := make([]byte, SectorSize)
	err = fs.readBlock(sectorID, sector)
	if err != nil {
		return Inode{}, err
	}

	inodes, err := DecodeInodeSector(sector)
	if err != nil {
		return Inode{}, err
	}

	inode := inodes[slot]
	if !inode.IsAllocated() {
		return Inode{}, v6fs.ErrUnallocatedInode.WithMessage(
			fmt.Sprintf("inode %d", inumber))
	}
	return inode, nil
}

// WriteInode stores `inode` in the inode area, leaving the other records in
// the same sector untouched.
func (fs *FileSystem) WriteInode(inumber Inumber, inode *Inode) error {
	sectorID, slot, err := fs.inodeLocation(inumber)
	if err != nil {
		return err
	}
	if err = fs.checkWritable(); err != nil {
		return err
	}

	sector := make([]byte, SectorSize)
	err = fs.readBlock(sectorID, sector)
	if err != nil {
		return err
	}

	err = EncodeInode(inode, sector, slot)
	if err != nil {
		return err
	}
	return fs.writeBlock(sectorID, sector)
}

// AllocateInode reserves the next free inode number. The inode itself isn't
// modified on disk; see [FileSystem.CreateFile].
func (fs *FileSystem) AllocateInode() (Inumber, error) {
	if err := fs.checkWritable(); err != nil {
		return 0, err
	}

	inumber, err := fs.inodeMap.Allocate()
	if err != nil {
		return 0, v6fs.ErrNoSpaceOnDevice.WithMessage("no free inodes")
	}
	return Inumber(inumber), nil
}

// FindSector translates a sector offset within a file into the sector on disk
// holding that part of the file.
//
// Small files store the data sectors directly in the address list. Large files
// store the numbers of indirect sectors in the address list, each of which
// holds the numbers of [AddressesPerSector] data sectors.
func (fs *FileSystem) FindSector(inode *Inode, offset uint32) (BlockNum, error) {
	if !inode.IsAllocated() {
		return 0, v6fs.ErrUnallocatedInode
	}

	size := inode.Size()
	if size > LargeFileMaxSize {
		return 0, v6fs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("size %d exceeds maximum of %d", size, LargeFileMaxSize))
	}

	if !inode.IsLarge() {
		if offset >= AddressListLength {
			return 0, v6fs.ErrOffsetOutOfRange.WithMessage(
				fmt.Sprintf(
					"sector %d of a small file, max is %d", offset, AddressListLength-1))
		}
		return inode.Addr[offset], nil
	}

	slot := offset / AddressesPerSector
	if slot >= IndirectSlots {
		return 0, v6fs.ErrOffsetOutOfRange.WithMessage(
			fmt.Sprintf(
				"sector %d of a large file, max is %d",
				offset,
				IndirectSlots*AddressesPerSector-1))
	}

	indirect := make([]byte, SectorSize)
	err := fs.readBlock(inode.Addr[slot], indirect)
	if err != nil {
		return 0, err
	}
	return getIndirectEntry(indirect, offset%AddressesPerSector), nil
}

// ScanInodes lists every allocated inode in the inode area.
func (fs *FileSystem) ScanInodes() ([]InodeSummary, error) {
	summaries := []InodeSummary{}
	sector := make([]byte, SectorSize)

	for i := uint16(0); i < fs.Superblock.InodeAreaSize; i++ {
		err := fs.readBlock(BlockNum(fs.Superblock.InodeStart+i), sector)
		if err != nil {
			return nil, err
		}

		inodes, err := DecodeInodeSector(sector)
		if err != nil {
			return nil, err
		}

		for slot := range inodes {
			inumber := Inumber(uint(i)*InodesPerSector + uint(slot))
			inode := &inodes[slot]
			if inumber == 0 || !inode.IsAllocated() {
				continue
			}

			fileType := "FIL"
			if inode.IsDir() {
				fileType = "DIR"
			}
			summaries = append(summaries, InodeSummary{
				Inumber: inumber,
				Type:    fileType,
				Mode:    fmt.Sprintf("%#o", inode.Mode),
				Links:   inode.NLink,
				UID:     inode.UID,
				GID:     inode.GID,
				Size:    inode.Size(),
				Large:   inode.IsLarge(),
			})
		}
	}
	return summaries, nil
}
