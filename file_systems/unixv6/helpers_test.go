package unixv6

import (
	"testing"
	"time"

	dt "github.com/dargueta/v6fs/testing"
	"github.com/stretchr/testify/require"
)

var formatTime = time.Date(1975, time.May, 14, 9, 30, 0, 0, time.UTC)

// newFormattedImage formats an in-memory image that starts out full of garbage
// and returns its backing bytes.
func newFormattedImage(t *testing.T, totalBlocks, totalInodes uint) []byte {
	stream, imageBytes := dt.CreateRandomImageStream(t, totalBlocks)

	err := FormatStream(stream, FormatOptions{
		TotalBlocks: totalBlocks,
		TotalInodes: totalInodes,
		Timestamp:   formatTime,
	})
	require.NoError(t, err, "formatting failed")
	return imageBytes
}

// mountImage mounts the image in `imageBytes`, unmounting it automatically
// when the test finishes.
func mountImage(t *testing.T, imageBytes []byte, options MountOptions) *FileSystem {
	fs, err := MountStream(dt.NewImageStream(t, imageBytes), options)
	require.NoError(t, err, "mounting failed")
	t.Cleanup(func() {
		if fs.device != nil {
			require.NoError(t, fs.Unmount(), "unmounting failed")
		}
	})
	return fs
}

func newMountedFS(t *testing.T, totalBlocks, totalInodes uint) (*FileSystem, []byte) {
	imageBytes := newFormattedImage(t, totalBlocks, totalInodes)
	return mountImage(t, imageBytes, MountOptions{}), imageBytes
}

// patternBytes returns `size` bytes that don't repeat with a period of 512, so
// that misplaced sectors are detected.
func patternBytes(size int, seed byte) []byte {
	data := make([]byte, size)
	for i := range data {
		data[i] = byte((i*31 + int(seed)) % 251)
	}
	return data
}

// createFile creates an empty regular file at `path` and opens it.
func createFile(t *testing.T, fs *FileSystem, path string) *File {
	inumber, err := fs.Create(path, DefaultFileMode)
	require.NoError(t, err, "failed to create %q", path)

	file, err := fs.OpenFile(inumber)
	require.NoError(t, err, "failed to open %q (inode %d)", path, inumber)
	return file
}

func readWholeFile(t *testing.T, fs *FileSystem, inumber Inumber) []byte {
	file, err := fs.OpenFile(inumber)
	require.NoError(t, err, "failed to open inode %d", inumber)

	contents, err := file.ReadAll()
	require.NoError(t, err, "failed to read inode %d", inumber)
	return contents
}
