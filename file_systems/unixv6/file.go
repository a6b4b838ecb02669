package unixv6

import (
	"fmt"
	"io"

	"github.com/dargueta/v6fs"
)

// File is a handle for reading and appending to the contents of an inode. It
// holds a copy of the inode taken when the handle was opened; two handles open
// on the same inode don't see each other's changes.
type File struct {
	fs      *FileSystem
	inumber Inumber
	inode   Inode
	offset  uint32
}

// OpenFile opens the inode `inumber` for reading, positioned at the beginning.
func (fs *FileSystem) OpenFile(inumber Inumber) (*File, error) {
	inode, err := fs.ReadInode(inumber)
	if err != nil {
		return nil, err
	}

	return &File{
		fs:      fs,
		inumber: inumber,
		inode:   inode,
	}, nil
}

// CreateFile initializes inode `inumber` as an empty file with the given mode
// and returns a handle to it. `mode` must include [FlagIsAllocated].
func (fs *FileSystem) CreateFile(inumber Inumber, mode uint16) (*File, error) {
	if mode&FlagIsAllocated == 0 {
		return nil, v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("mode %#o doesn't have the allocated flag set", mode))
	}

	inode := Inode{Mode: mode}
	err := fs.WriteInode(inumber, &inode)
	if err != nil {
		return nil, err
	}

	return &File{
		fs:      fs,
		inumber: inumber,
		inode:   inode,
	}, nil
}

func (file *File) Inumber() Inumber {
	return file.inumber
}

// Inode returns a copy of the handle's inode.
func (file *File) Inode() Inode {
	return file.inode
}

func (file *File) Size() uint32 {
	return file.inode.Size()
}

func (file *File) Offset() uint32 {
	return file.offset
}

// SeekTo moves the read position to `offset` bytes from the beginning of the
// file. The position must be inside the file.
func (file *File) SeekTo(offset int64) error {
	if offset < 0 {
		return v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("negative offset %d", offset))
	}
	if offset >= int64(file.inode.Size()) {
		return v6fs.ErrOffsetOutOfRange.WithMessage(
			fmt.Sprintf("offset %d past end of %d-byte file", offset, file.inode.Size()))
	}

	file.offset = uint32(offset)
	return nil
}

// ReadBlock reads from the current position up to the end of the sector that
// contains it, or the end of the file, whichever comes first. `buffer` must be
// at least [SectorSize] bytes long. At the end of the file it returns 0 and
// [io.EOF].
func (file *File) ReadBlock(buffer []byte) (int, error) {
	if len(buffer) < SectorSize {
		return 0, v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("buffer must be at least %d bytes, got %d", SectorSize, len(buffer)))
	}

	size := file.inode.Size()
	if file.offset >= size {
		file.offset = size
		return 0, io.EOF
	}

	sectorID, err := file.fs.FindSector(&file.inode, file.offset/SectorSize)
	if err != nil {
		return 0, err
	}

	sector := make([]byte, SectorSize)
	err = file.fs.readBlock(sectorID, sector)
	if err != nil {
		return 0, err
	}

	start := file.offset % SectorSize
	count := SectorSize - start
	if remaining := size - file.offset; remaining < count {
		count = remaining
	}

	copy(buffer, sector[start:start+count])
	file.offset += count
	return int(count), nil
}

// ReadAll reads the entire file from the beginning. The read position is left
// at the end of the file.
func (file *File) ReadAll() ([]byte, error) {
	contents := make([]byte, 0, file.inode.Size())
	buffer := make([]byte, SectorSize)

	file.offset = 0
	for {
		count, err := file.ReadBlock(buffer)
		if err == io.EOF {
			return contents, nil
		} else if err != nil {
			return nil, err
		}
		contents = append(contents, buffer[:count]...)
	}
}
