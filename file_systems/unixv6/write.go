package unixv6

import (
	"fmt"

	"github.com/dargueta/v6fs"
)

// sectorWrite describes where appendToSector put its data.
type sectorWrite struct {
	Sector BlockNum
	// Allocated is true if Sector was newly allocated and the caller must
	// record it, false if the data went into an existing partial sector.
	Allocated bool
}

// appendToSector appends the beginning of `data` to a stream that currently
// holds `used` bytes. If the last sector of the stream, `tail`, has room left,
// the data is added to it; otherwise a new sector is allocated. Only one sector
// is written. Returns the number of bytes consumed from `data`.
//
// `tail` is ignored when `used` is a multiple of [SectorSize].
func (fs *FileSystem) appendToSector(used uint32, tail BlockNum, data []byte) (int, sectorWrite, error) {
	sector := make([]byte, SectorSize)

	filled := used % SectorSize
	if filled != 0 {
		err := fs.readBlock(tail, sector)
		if err != nil {
			return 0, sectorWrite{}, err
		}

		count := copy(sector[filled:], data)
		err = fs.writeBlock(tail, sector)
		if err != nil {
			return 0, sectorWrite{}, err
		}
		return count, sectorWrite{Sector: tail}, nil
	}

	newSector, err := fs.allocateBlock()
	if err != nil {
		return 0, sectorWrite{}, err
	}

	count := copy(sector, data)
	err = fs.writeBlock(newSector, sector)
	if err != nil {
		fs.releaseBlock(newSector)
		return 0, sectorWrite{}, err
	}
	return count, sectorWrite{Sector: newSector, Allocated: true}, nil
}

// Write appends `data` to the end of the file, regardless of the read
// position. The inode is updated on disk after every sector, so if an error
// occurs the file contains everything up to the returned byte count.
//
// A write that would take the file past [LargeFileMaxSize] fails without
// writing anything.
func (file *File) Write(data []byte) (int, error) {
	if err := file.fs.checkWritable(); err != nil {
		return 0, err
	}

	size := file.inode.Size()
	newSize := uint64(size) + uint64(len(data))
	if newSize > LargeFileMaxSize {
		return 0, v6fs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf(
				"writing %d bytes to inode %d would make it %d bytes, max is %d",
				len(data),
				file.inumber,
				newSize,
				LargeFileMaxSize))
	}
	if len(data) == 0 {
		return 0, nil
	}

	if newSize <= SmallFileMaxSize {
		return file.writeSmall(data)
	}
	if size > SmallFileMaxSize {
		return file.writeLarge(data)
	}

	// The file is small now but won't be after this write. Fill up the direct
	// sectors first, then switch the file over to indirect addressing.
	written, err := file.writeSmall(data[:SmallFileMaxSize-size])
	if err != nil {
		return written, err
	}

	count, err := file.promoteAndWrite(data[written:])
	return written + count, err
}

// writeSmall appends data to a file that will still be small afterwards.
func (file *File) writeSmall(data []byte) (int, error) {
	written := 0

	for written < len(data) {
		size := file.inode.Size()
		index := size / SectorSize

		tail := BlockNum(0)
		if size%SectorSize != 0 {
			tail = file.inode.Addr[index]
		}

		count, result, err := file.fs.appendToSector(size, tail, data[written:])
		if err != nil {
			return written, err
		}

		previous := file.inode
		if result.Allocated {
			file.inode.Addr[index] = result.Sector
		}
		file.inode.SetSize(size + uint32(count))

		err = file.fs.WriteInode(file.inumber, &file.inode)
		if err != nil {
			file.inode = previous
			if result.Allocated {
				file.fs.releaseBlock(result.Sector)
			}
			return written, err
		}
		written += count
	}
	return written, nil
}

// promoteAndWrite converts a full small file to a large one and appends `data`
// to it. The converted inode only reaches the disk together with the first
// byte of the new data, so if nothing can be written the file is left as it
// was.
func (file *File) promoteAndWrite(data []byte) (int, error) {
	indirect := make([]byte, SectorSize)
	sectorCount := file.inode.SectorCount()
	for i := uint32(0); i < sectorCount; i++ {
		putIndirectEntry(indirect, i, file.inode.Addr[i])
	}

	indirectSector, err := file.fs.allocateBlock()
	if err != nil {
		return 0, err
	}
	err = file.fs.writeBlock(indirectSector, indirect)
	if err != nil {
		file.fs.releaseBlock(indirectSector)
		return 0, err
	}

	original := file.inode
	file.inode.Addr = [AddressListLength]BlockNum{indirectSector}
	file.inode.Mode |= FlagIsLargeFile

	written, err := file.writeLarge(data)
	if written == 0 && err != nil {
		file.inode = original
		file.fs.releaseBlock(indirectSector)
	}
	return written, err
}

// writeLarge appends data to a file that uses indirect addressing.
func (file *File) writeLarge(data []byte) (int, error) {
	written := 0

	for written < len(data) {
		size := file.inode.Size()
		index := size / SectorSize
		previous := file.inode

		var count int
		var allocated []BlockNum
		var err error
		if size%SectorSize != 0 {
			var tail BlockNum
			tail, err = file.fs.FindSector(&file.inode, index)
			if err == nil {
				count, _, err = file.fs.appendToSector(size, tail, data[written:])
			}
		} else {
			count, allocated, err = file.appendDataSector(index, data[written:])
		}
		if err != nil {
			return written, err
		}

		file.inode.SetSize(size + uint32(count))
		err = file.fs.WriteInode(file.inumber, &file.inode)
		if err != nil {
			file.inode = previous
			for _, sector := range allocated {
				file.fs.releaseBlock(sector)
			}
			return written, err
		}
		written += count
	}
	return written, nil
}

// appendDataSector allocates data sector number `index` of a large file,
// fills it from `data`, and records its address in the indirect sectors. A new
// indirect sector is allocated when the current one is full. Returns the
// sectors it allocated so the caller can release them if the inode can't be
// saved.
func (file *File) appendDataSector(index uint32, data []byte) (int, []BlockNum, error) {
	slot := index / AddressesPerSector
	if slot >= IndirectSlots {
		return 0, nil, v6fs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("inode %d has no room for sector %d", file.inumber, index))
	}

	count, dataWrite, err := file.fs.appendToSector(0, 0, data)
	if err != nil {
		return 0, nil, err
	}

	// The indirect sectors together form a stream of 2-byte addresses, one per
	// data sector.
	entry := make([]byte, 2)
	putIndirectEntry(entry, 0, dataWrite.Sector)

	addressBytes := index * 2
	tail := BlockNum(0)
	if addressBytes%SectorSize != 0 {
		tail = file.inode.Addr[slot]
	}

	_, indirectWrite, err := file.fs.appendToSector(addressBytes, tail, entry)
	if err != nil {
		file.fs.releaseBlock(dataWrite.Sector)
		return 0, nil, err
	}

	allocated := []BlockNum{dataWrite.Sector}
	if indirectWrite.Allocated {
		file.inode.Addr[slot] = indirectWrite.Sector
		allocated = append(allocated, indirectWrite.Sector)
	}
	return count, allocated, nil
}
