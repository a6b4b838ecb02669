package unixv6

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dargueta/v6fs"
)

// splitPath breaks a path into its components. Empty components, such as those
// created by leading, trailing, or repeated slashes, are dropped.
func splitPath(path string) []string {
	components := []string{}
	for _, part := range strings.Split(path, "/") {
		if part != "" {
			components = append(components, part)
		}
	}
	return components
}

// findInDirectory searches directory `dirInumber` for an entry called `name`.
func (fs *FileSystem) findInDirectory(dirInumber Inumber, name string) (Inumber, error) {
	dir, err := fs.OpenDir(dirInumber)
	if err != nil {
		return 0, err
	}

	// Names are stored in a fixed-size field, so a longer one can't be there.
	if len(name) <= MaxNameLength {
		for {
			entryName, child, err := dir.Next()
			if err == io.EOF {
				break
			} else if err != nil {
				return 0, err
			}
			if entryName == name {
				return child, nil
			}
		}
	}

	return 0, v6fs.ErrNotFound.WithMessage(
		fmt.Sprintf("%q not in directory %d", name, dirInumber))
}

// Lookup resolves `path` starting from the directory `root`. Leading, trailing,
// and repeated slashes are ignored, so "", "/", and "//" all resolve to `root`.
func (fs *FileSystem) Lookup(root Inumber, path string) (Inumber, error) {
	current := root
	for _, component := range splitPath(path) {
		child, err := fs.findInDirectory(current, component)
		if err != nil {
			return 0, err
		}
		current = child
	}
	return current, nil
}

// Create makes a new empty file or directory at `path`, which is interpreted
// relative to the root directory. The parent directory must already exist.
//
// Create isn't atomic. If writing the directory entry fails, the new inode stays
// allocated without any entry pointing to it.
func (fs *FileSystem) Create(path string, mode uint16) (Inumber, error) {
	if err := fs.checkWritable(); err != nil {
		return 0, err
	}

	trimmed := strings.TrimRight(path, "/")
	separator := strings.LastIndexByte(trimmed, '/')
	parentPath, name := trimmed[:separator+1], trimmed[separator+1:]

	if name == "" {
		return 0, v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf("%q doesn't name a file", path))
	}

	dirent, err := NewRawDirent(name, 0)
	if err != nil {
		return 0, err
	}

	parent, err := fs.Lookup(RootInumber, parentPath)
	if err != nil {
		return 0, err
	}

	_, err = fs.findInDirectory(parent, name)
	if err == nil {
		return 0, v6fs.ErrExists.WithMessage(path)
	} else if !errors.Is(err, v6fs.ErrNotFound) {
		return 0, err
	}

	inumber, err := fs.AllocateInode()
	if err != nil {
		return 0, err
	}

	_, err = fs.CreateFile(inumber, mode)
	if err != nil {
		fs.inodeMap.Clear(uint64(inumber))
		return 0, err
	}

	parentFile, err := fs.OpenFile(parent)
	if err != nil {
		return 0, err
	}

	dirent.Inumber = inumber
	_, err = parentFile.Write(dirent.Encode())
	if err != nil {
		return 0, err
	}

	fs.logger.Debug("created file", "path", path, "inumber", inumber, "mode", fmt.Sprintf("%#o", mode))
	return inumber, nil
}

// Mkdir creates an empty directory with default permissions.
func (fs *FileSystem) Mkdir(path string) (Inumber, error) {
	return fs.Create(path, DefaultDirectoryMode)
}

// AddFile creates a regular file with default permissions and fills it with
// `contents`.
func (fs *FileSystem) AddFile(path string, contents []byte) (Inumber, error) {
	if len(contents) > LargeFileMaxSize {
		return 0, v6fs.ErrFileTooLarge.WithMessage(
			fmt.Sprintf("%d bytes, max is %d", len(contents), LargeFileMaxSize))
	}

	inumber, err := fs.Create(path, DefaultFileMode)
	if err != nil {
		return 0, err
	}

	file, err := fs.OpenFile(inumber)
	if err != nil {
		return inumber, err
	}

	_, err = file.Write(contents)
	return inumber, err
}

// WalkFunc is called by [FileSystem.Walk] for every entry in the tree.
// `path` is the absolute path of the entry; directories end with a slash.
type WalkFunc func(path string, inumber Inumber, inode *Inode) error

// Walk visits the tree rooted at directory `root` depth-first, in on-disk
// order, starting with the root itself (path "/"). If `fn` returns an error
// the walk stops and returns it.
func (fs *FileSystem) Walk(root Inumber, fn WalkFunc) error {
	visited := map[Inumber]bool{}
	return fs.walkDirectory("/", root, fn, visited)
}

func (fs *FileSystem) walkDirectory(
	path string, inumber Inumber, fn WalkFunc, visited map[Inumber]bool,
) error {
	inode, err := fs.ReadInode(inumber)
	if err != nil {
		return err
	}

	err = fn(path, inumber, &inode)
	if err != nil || !inode.IsDir() {
		return err
	}

	if visited[inumber] {
		return v6fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("directory %d appears twice under %q", inumber, path))
	}
	visited[inumber] = true

	entries, err := fs.ReadDirAll(inumber)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		childInode, err := fs.ReadInode(entry.Inumber)
		if err != nil {
			return err
		}

		childPath := path + entry.Name
		if childInode.IsDir() {
			err = fs.walkDirectory(childPath+"/", entry.Inumber, fn, visited)
		} else {
			err = fn(childPath, entry.Inumber, &childInode)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
