package unixv6

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/dargueta/v6fs"
	dt "github.com/dargueta/v6fs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMountFreshImage(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 32)

	assert.EqualValues(t, 2, fs.Superblock.InodeAreaSize)
	assert.EqualValues(t, 4, fs.Superblock.BlockStart)
	assert.False(t, fs.IsReadOnly())

	stat := fs.Stat()
	assert.Equal(
		t,
		FSStat{
			BlockSize:   512,
			TotalBlocks: 64,
			DataBlocks:  60,
			BlocksFree:  60,
			TotalInodes: 31,
			InodesFree:  30,
		},
		stat)

	used, err := fs.InodeMap().Test(uint64(RootInumber))
	require.NoError(t, err)
	assert.True(t, used, "root inode must be marked as used")

	assert.EqualValues(t, 1, fs.InodeMap().Min())
	assert.EqualValues(t, 31, fs.InodeMap().Max())
	assert.EqualValues(t, 4, fs.BlockMap().Min())
	assert.EqualValues(t, 63, fs.BlockMap().Max())
}

func TestMountBadBootSector(t *testing.T) {
	imageBytes := newFormattedImage(t, 32, 16)
	imageBytes[BootMagicOffset] = 0

	_, err := MountStream(dt.NewImageStream(t, imageBytes), MountOptions{})
	assert.ErrorIs(t, err, v6fs.ErrInvalidFileSystem)
}

func TestMountTinyImage(t *testing.T) {
	stream, _ := dt.CreateBlankImage(t, 1)
	_, err := MountStream(stream, MountOptions{})
	assert.ErrorIs(t, err, v6fs.ErrInvalidFileSystem)
}

func TestMountCorruptedSuperblock(t *testing.T) {
	imageBytes := newFormattedImage(t, 32, 16)
	// Move the data area so that it overlaps the inode area.
	binary.LittleEndian.PutUint16(imageBytes[SectorSize+10:], 2)

	_, err := MountStream(dt.NewImageStream(t, imageBytes), MountOptions{})
	assert.ErrorIs(t, err, v6fs.ErrFileSystemCorrupted)
}

func TestMountTruncatedImage(t *testing.T) {
	imageBytes := newFormattedImage(t, 32, 16)

	_, err := MountStream(dt.NewImageStream(t, imageBytes[:20*SectorSize]), MountOptions{})
	assert.ErrorIs(t, err, v6fs.ErrFileSystemCorrupted)
}

func TestRemountRebuildsAllocationMaps(t *testing.T) {
	fs, imageBytes := newMountedFS(t, 200, 48)

	_, err := fs.Mkdir("/usr")
	require.NoError(t, err)
	_, err = fs.AddFile("/usr/small", patternBytes(700, 1))
	require.NoError(t, err)
	_, err = fs.AddFile("/usr/large", patternBytes(SmallFileMaxSize*3+17, 2))
	require.NoError(t, err)
	_, err = fs.AddFile("/exact", patternBytes(SmallFileMaxSize, 3))
	require.NoError(t, err)

	before := fs.Stat()
	remounted := mountImage(t, imageBytes, MountOptions{})
	assert.Equal(t, before, remounted.Stat())

	for block := fs.BlockMap().Min(); block <= fs.BlockMap().Max(); block++ {
		expected, err := fs.BlockMap().Test(block)
		require.NoError(t, err)
		actual, err := remounted.BlockMap().Test(block)
		require.NoError(t, err)
		assert.Equal(t, expected, actual, "block %d", block)
	}

	for inumber := fs.InodeMap().Min(); inumber <= fs.InodeMap().Max(); inumber++ {
		expected, err := fs.InodeMap().Test(inumber)
		require.NoError(t, err)
		actual, err := remounted.InodeMap().Test(inumber)
		require.NoError(t, err)
		assert.Equal(t, expected, actual, "inode %d", inumber)
	}
}

func TestRemountAllocatesAfterExistingData(t *testing.T) {
	fs, imageBytes := newMountedFS(t, 64, 16)
	first, err := fs.AddFile("/a", patternBytes(1500, 4))
	require.NoError(t, err)

	remounted := mountImage(t, imageBytes, MountOptions{})
	second, err := remounted.AddFile("/b", patternBytes(1500, 5))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	assert.Equal(t, patternBytes(1500, 4), readWholeFile(t, remounted, first))
	assert.Equal(t, patternBytes(1500, 5), readWholeFile(t, remounted, second))
}

func TestMountReadOnlyOption(t *testing.T) {
	imageBytes := newFormattedImage(t, 64, 16)
	original := bytes.Clone(imageBytes)

	fs := mountImage(t, imageBytes, MountOptions{ReadOnly: true})
	assert.True(t, fs.IsReadOnly())

	_, err := fs.Create("/file", DefaultFileMode)
	assert.ErrorIs(t, err, v6fs.ErrReadOnlyFileSystem)

	_, err = fs.AllocateInode()
	assert.ErrorIs(t, err, v6fs.ErrReadOnlyFileSystem)

	root, err := fs.ReadInode(RootInumber)
	require.NoError(t, err)
	assert.ErrorIs(t, fs.WriteInode(RootInumber, &root), v6fs.ErrReadOnlyFileSystem)

	assert.Equal(t, original, imageBytes, "read-only mount modified the image")
}

func TestMountReadOnlySuperblockFlag(t *testing.T) {
	imageBytes := newFormattedImage(t, 64, 16)
	imageBytes[SectorSize+19] = 1

	fs := mountImage(t, imageBytes, MountOptions{})
	assert.True(t, fs.IsReadOnly())

	file, err := fs.OpenFile(RootInumber)
	require.NoError(t, err)
	_, err = file.Write([]byte("x"))
	assert.ErrorIs(t, err, v6fs.ErrReadOnlyFileSystem)
}

// failingReadStream fails every read that starts at `badOffset`.
type failingReadStream struct {
	io.ReadWriteSeeker
	badOffset int64
	position  int64
}

func (s *failingReadStream) Seek(offset int64, whence int) (int64, error) {
	position, err := s.ReadWriteSeeker.Seek(offset, whence)
	s.position = position
	return position, err
}

func (s *failingReadStream) Read(buffer []byte) (int, error) {
	if s.position == s.badOffset {
		return 0, errors.New("simulated read failure")
	}
	count, err := s.ReadWriteSeeker.Read(buffer)
	s.position += int64(count)
	return count, err
}

func (s *failingReadStream) Write(data []byte) (int, error) {
	count, err := s.ReadWriteSeeker.Write(data)
	s.position += int64(count)
	return count, err
}

func TestMountUnreadableInodeSectorIsConservative(t *testing.T) {
	imageBytes := newFormattedImage(t, 64, 32)
	stream := &failingReadStream{
		ReadWriteSeeker: dt.NewImageStream(t, imageBytes),
		badOffset:       3 * SectorSize,
	}

	logs := bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))

	fs, err := MountStream(stream, MountOptions{Logger: logger})
	require.NoError(t, err)
	defer fs.Unmount()

	// Inodes 16-31 live in the unreadable sector and must not be handed out.
	for inumber := uint64(16); inumber < 32; inumber++ {
		used, err := fs.InodeMap().Test(inumber)
		require.NoError(t, err)
		assert.True(t, used, "inode %d should be assumed in use", inumber)
	}
	assert.EqualValues(t, 31-1-16, fs.Stat().InodesFree)
	assert.Contains(t, logs.String(), "unreadable inode sector")
	assert.Contains(t, logs.String(), "mounted image")

	inumber, err := fs.AllocateInode()
	require.NoError(t, err)
	assert.EqualValues(t, 2, inumber)
}

func TestUnmountTwice(t *testing.T) {
	imageBytes := newFormattedImage(t, 16, 16)
	fs, err := MountStream(dt.NewImageStream(t, imageBytes), MountOptions{})
	require.NoError(t, err)

	require.NoError(t, fs.Unmount())
	assert.ErrorIs(t, fs.Unmount(), v6fs.ErrInvalidArgument)
}
