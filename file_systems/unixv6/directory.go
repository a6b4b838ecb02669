package unixv6

import (
	"fmt"
	"io"

	"github.com/dargueta/v6fs"
)

// DirReader iterates over the entries of a directory, one sector at a time.
type DirReader struct {
	file      *File
	entries   []RawDirent
	next      int
	exhausted bool
}

// Dirent is a decoded directory entry.
type Dirent struct {
	Name    string
	Inumber Inumber
}

// OpenDir opens the directory with inode number `inumber` for iteration.
func (fs *FileSystem) OpenDir(inumber Inumber) (*DirReader, error) {
	file, err := fs.OpenFile(inumber)
	if err != nil {
		return nil, err
	}

	if !file.inode.IsDir() {
		return nil, v6fs.ErrNotADirectory.WithMessage(
			fmt.Sprintf("invalid directory inode %d: mode is %#o", inumber, file.inode.Mode))
	}
	return &DirReader{file: file}, nil
}

// Next returns the name and inode number of the next entry in the directory.
// After the last entry it returns [io.EOF].
func (dir *DirReader) Next() (string, Inumber, error) {
	for dir.next >= len(dir.entries) {
		if dir.exhausted {
			return "", 0, io.EOF
		}

		buffer := make([]byte, SectorSize)
		count, err := dir.file.ReadBlock(buffer)
		if err == io.EOF {
			dir.exhausted = true
			dir.entries = nil
			return "", 0, io.EOF
		} else if err != nil {
			return "", 0, err
		}

		dir.entries, err = DecodeDirents(buffer[:count])
		if err != nil {
			return "", 0, err
		}
		dir.next = 0
	}

	entry := &dir.entries[dir.next]
	dir.next++
	return entry.NameString(), entry.Inumber, nil
}

// ReadDirAll returns every entry of a directory, in on-disk order.
func (fs *FileSystem) ReadDirAll(inumber Inumber) ([]Dirent, error) {
	dir, err := fs.OpenDir(inumber)
	if err != nil {
		return nil, err
	}

	entries := []Dirent{}
	for {
		name, child, err := dir.Next()
		if err == io.EOF {
			return entries, nil
		} else if err != nil {
			return nil, err
		}
		entries = append(entries, Dirent{Name: name, Inumber: child})
	}
}
