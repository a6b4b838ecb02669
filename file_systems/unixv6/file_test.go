package unixv6

import (
	"errors"
	"io"
	"testing"

	"github.com/dargueta/v6fs"
	dt "github.com/dargueta/v6fs/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadBlockSmallFile(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)
	file := createFile(t, fs, "/hundred")

	data := patternBytes(100, 0)
	written, err := file.Write(data)
	require.NoError(t, err)
	require.Equal(t, 100, written)

	reader, err := fs.OpenFile(file.Inumber())
	require.NoError(t, err)
	assert.EqualValues(t, 100, reader.Size())

	buffer := make([]byte, SectorSize)
	count, err := reader.ReadBlock(buffer)
	require.NoError(t, err)
	assert.Equal(t, 100, count)
	assert.Equal(t, data, buffer[:count])

	count, err = reader.ReadBlock(buffer)
	assert.Equal(t, 0, count)
	assert.ErrorIs(t, err, io.EOF)
	assert.EqualValues(t, 100, reader.Offset())
}

func TestReadBlockSectorByteCounts(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)
	file := createFile(t, fs, "/file")

	_, err := file.Write(patternBytes(1300, 0))
	require.NoError(t, err)

	buffer := make([]byte, SectorSize)
	counts := []int{}
	for {
		count, err := file.ReadBlock(buffer)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		counts = append(counts, count)
	}
	assert.Equal(t, []int{512, 512, 276}, counts)
}

func TestReadBlockRejectsShortBuffer(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)
	file, err := fs.OpenFile(RootInumber)
	require.NoError(t, err)

	_, err = file.ReadBlock(make([]byte, SectorSize-1))
	assert.ErrorIs(t, err, v6fs.ErrInvalidArgument)
}

func TestSeekTo(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)
	file := createFile(t, fs, "/file")
	data := patternBytes(1500, 3)
	_, err := file.Write(data)
	require.NoError(t, err)

	assert.ErrorIs(t, file.SeekTo(-1), v6fs.ErrInvalidArgument)
	assert.ErrorIs(t, file.SeekTo(1500), v6fs.ErrOffsetOutOfRange)

	buffer := make([]byte, SectorSize)

	require.NoError(t, file.SeekTo(1024))
	count, err := file.ReadBlock(buffer)
	require.NoError(t, err)
	assert.Equal(t, data[1024:], buffer[:count])

	// An unaligned position reads up to the end of its sector.
	require.NoError(t, file.SeekTo(500))
	count, err = file.ReadBlock(buffer)
	require.NoError(t, err)
	assert.Equal(t, data[500:512], buffer[:count])

	count, err = file.ReadBlock(buffer)
	require.NoError(t, err)
	assert.Equal(t, data[512:1024], buffer[:count])
}

func TestCreateFileRequiresAllocatedFlag(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)

	_, err := fs.CreateFile(2, FileTypeDirectory|0o755)
	assert.ErrorIs(t, err, v6fs.ErrInvalidArgument)

	_, err = fs.ReadInode(2)
	assert.ErrorIs(t, err, v6fs.ErrUnallocatedInode, "inode was written anyway")
}

func TestCreateFileWritesEmptyInode(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)

	require.NoError(t, fs.WriteInode(5, &Inode{
		Mode:  DefaultFileMode,
		NLink: 4,
		Addr:  [AddressListLength]BlockNum{20, 21},
	}))

	file, err := fs.CreateFile(5, DefaultFileMode|FlagSetUID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, file.Size())

	inode, err := fs.ReadInode(5)
	require.NoError(t, err)
	assert.Equal(t, Inode{Mode: DefaultFileMode | FlagSetUID}, inode)
}

func TestWriteExactlySmallFileMaxStaysSmall(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)
	file := createFile(t, fs, "/file")

	data := patternBytes(SmallFileMaxSize, 1)
	written, err := file.Write(data)
	require.NoError(t, err)
	assert.Equal(t, SmallFileMaxSize, written)

	inode, err := fs.ReadInode(file.Inumber())
	require.NoError(t, err)
	assert.False(t, inode.IsLarge())
	assert.Zero(t, inode.Mode&FlagIsLargeFile)

	seen := map[BlockNum]bool{}
	for i, sector := range inode.Addr {
		assert.NotZero(t, sector, "address %d unset", i)
		assert.False(t, seen[sector], "sector %d used twice", sector)
		seen[sector] = true
	}

	assert.Equal(t, data, readWholeFile(t, fs, file.Inumber()))
}

func TestWriteOnePastSmallFileMaxPromotes(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)
	file := createFile(t, fs, "/file")
	freeBefore := fs.Stat().BlocksFree

	data := patternBytes(SmallFileMaxSize+1, 2)
	written, err := file.Write(data)
	require.NoError(t, err)
	assert.Equal(t, SmallFileMaxSize+1, written)

	inode, err := fs.ReadInode(file.Inumber())
	require.NoError(t, err)
	assert.True(t, inode.IsLarge())
	assert.NotZero(t, inode.Mode&FlagIsLargeFile)
	assert.NotZero(t, inode.Addr[0])
	for i := 1; i < AddressListLength; i++ {
		assert.Zero(t, inode.Addr[i], "address %d should be unused", i)
	}

	// Nine data sectors plus one indirect sector.
	assert.EqualValues(t, 10, freeBefore-fs.Stat().BlocksFree)
	assert.Equal(t, data, readWholeFile(t, fs, file.Inumber()))

	seen := map[BlockNum]bool{inode.Addr[0]: true}
	for i := uint32(0); i < inode.SectorCount(); i++ {
		sector, err := fs.FindSector(&inode, i)
		require.NoError(t, err, "sector %d", i)
		assert.GreaterOrEqual(t, uint(sector), uint(fs.Superblock.BlockStart), "sector %d", i)
		assert.Less(t, uint(sector), uint(fs.Superblock.TotalBlocks), "sector %d", i)
		assert.False(t, seen[sector], "sector %d maps to %d, which is already in use", i, sector)
		seen[sector] = true
	}
	assert.Len(t, seen, 10)
}

func TestWriteCrossingThresholdInTwoCalls(t *testing.T) {
	fs, imageBytes := newMountedFS(t, 64, 16)
	file := createFile(t, fs, "/file")

	data := patternBytes(5000, 7)
	written, err := file.Write(data[:3000])
	require.NoError(t, err)
	require.Equal(t, 3000, written)

	inode, err := fs.ReadInode(file.Inumber())
	require.NoError(t, err)
	require.False(t, inode.IsLarge())
	directAddresses := inode.Addr

	written, err = file.Write(data[3000:])
	require.NoError(t, err)
	require.Equal(t, 2000, written)
	assert.EqualValues(t, 5000, file.Size())

	inode, err = fs.ReadInode(file.Inumber())
	require.NoError(t, err)
	require.True(t, inode.IsLarge())

	// The first six sectors didn't move; the indirect sector lists them first.
	indirect := make([]byte, SectorSize)
	require.NoError(t, fs.readBlock(inode.Addr[0], indirect))
	for i := uint32(0); i < 6; i++ {
		assert.Equal(t, directAddresses[i], getIndirectEntry(indirect, i), "entry %d", i)
	}
	for i := uint32(10); i < AddressesPerSector; i++ {
		assert.Zero(t, getIndirectEntry(indirect, i), "entry %d", i)
	}

	assert.Equal(t, data, readWholeFile(t, fs, file.Inumber()))

	remounted := mountImage(t, imageBytes, MountOptions{})
	assert.Equal(t, data, readWholeFile(t, remounted, file.Inumber()))
}

func TestWriteManySmallAppends(t *testing.T) {
	fs, _ := newMountedFS(t, 100, 16)
	file := createFile(t, fs, "/log")

	data := patternBytes(9000, 11)
	for start := 0; start < len(data); start += 37 {
		end := start + 37
		if end > len(data) {
			end = len(data)
		}
		written, err := file.Write(data[start:end])
		require.NoError(t, err, "append at %d", start)
		require.Equal(t, end-start, written)
	}

	assert.Equal(t, data, readWholeFile(t, fs, file.Inumber()))
}

func TestWriteSecondIndirectSector(t *testing.T) {
	fs, _ := newMountedFS(t, 400, 16)
	file := createFile(t, fs, "/file")

	size := (AddressesPerSector + 5) * SectorSize
	data := patternBytes(size, 13)
	written, err := file.Write(data)
	require.NoError(t, err)
	require.Equal(t, size, written)

	inode := file.Inode()
	assert.NotZero(t, inode.Addr[0])
	assert.NotZero(t, inode.Addr[1])
	assert.Zero(t, inode.Addr[2])
	assert.Equal(t, data, readWholeFile(t, fs, file.Inumber()))
}

func TestWriteMaximumSize(t *testing.T) {
	fs, imageBytes := newMountedFS(t, 1900, 16)
	file := createFile(t, fs, "/big")

	data := patternBytes(LargeFileMaxSize, 17)
	written, err := file.Write(data)
	require.NoError(t, err)
	require.Equal(t, LargeFileMaxSize, written)

	_, err = file.Write([]byte{0})
	assert.ErrorIs(t, err, v6fs.ErrFileTooLarge)

	inode := file.Inode()
	for i := 0; i < IndirectSlots; i++ {
		assert.NotZero(t, inode.Addr[i], "indirect slot %d", i)
	}
	assert.Zero(t, inode.Addr[IndirectSlots], "last slot is reserved")

	remounted := mountImage(t, imageBytes, MountOptions{})
	assert.Equal(t, data, readWholeFile(t, remounted, file.Inumber()))
	assert.Equal(t, fs.Stat(), remounted.Stat())
}

func TestWriteTooLargeWritesNothing(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)
	file := createFile(t, fs, "/file")
	freeBefore := fs.Stat().BlocksFree

	written, err := file.Write(make([]byte, LargeFileMaxSize+1))
	assert.ErrorIs(t, err, v6fs.ErrFileTooLarge)
	assert.Equal(t, 0, written)
	assert.EqualValues(t, 0, file.Size())
	assert.Equal(t, freeBefore, fs.Stat().BlocksFree)
}

func TestWriteOutOfSpace(t *testing.T) {
	// Thirteen data blocks: one for the root directory leaves twelve.
	fs, imageBytes := newMountedFS(t, 16, 16)
	file := createFile(t, fs, "/file")
	require.EqualValues(t, 12, fs.Stat().BlocksFree)

	data := patternBytes(2*SmallFileMaxSize, 19)
	written, err := file.Write(data)
	assert.ErrorIs(t, err, v6fs.ErrNoSpaceOnDevice)

	// Eight direct sectors, then an indirect sector and three more data sectors.
	assert.Equal(t, SmallFileMaxSize+3*SectorSize, written)
	assert.EqualValues(t, written, file.Size())
	assert.EqualValues(t, 0, fs.Stat().BlocksFree)

	remounted := mountImage(t, imageBytes, MountOptions{})
	assert.Equal(t, data[:written], readWholeFile(t, remounted, file.Inumber()))
	assert.EqualValues(t, 0, remounted.Stat().BlocksFree)
}

func TestWriteOutOfSpaceDuringPromotion(t *testing.T) {
	// Nine data blocks: the root directory takes one, the file's direct
	// sectors the other eight, leaving nothing for the indirect sector.
	fs, imageBytes := newMountedFS(t, 12, 16)
	file := createFile(t, fs, "/file")

	data := patternBytes(SmallFileMaxSize+10, 23)
	written, err := file.Write(data)
	assert.ErrorIs(t, err, v6fs.ErrNoSpaceOnDevice)
	assert.Equal(t, SmallFileMaxSize, written)

	inode, err := fs.ReadInode(file.Inumber())
	require.NoError(t, err)
	assert.False(t, inode.IsLarge())
	assert.Zero(t, inode.Mode&FlagIsLargeFile)
	assert.Equal(t, inode, file.Inode(), "in-memory inode diverged from disk")

	remounted := mountImage(t, imageBytes, MountOptions{})
	assert.Equal(t, data[:SmallFileMaxSize], readWholeFile(t, remounted, file.Inumber()))
}

func TestWriteFailedPromotionReleasesIndirectSector(t *testing.T) {
	// Ten data blocks: root directory, eight direct sectors, and the indirect
	// sector. The first large data sector can't be allocated.
	fs, _ := newMountedFS(t, 13, 16)
	file := createFile(t, fs, "/file")

	written, err := file.Write(patternBytes(SmallFileMaxSize+1, 29))
	assert.ErrorIs(t, err, v6fs.ErrNoSpaceOnDevice)
	assert.Equal(t, SmallFileMaxSize, written)
	assert.EqualValues(t, 1, fs.Stat().BlocksFree, "indirect sector leaked")

	inode := file.Inode()
	assert.False(t, inode.IsLarge())
}

func TestAppendToSectorResult(t *testing.T) {
	fs, _ := newMountedFS(t, 64, 16)

	count, result, err := fs.appendToSector(0, 0, patternBytes(600, 0))
	require.NoError(t, err)
	assert.Equal(t, SectorSize, count)
	assert.True(t, result.Allocated)
	assert.EqualValues(t, fs.Superblock.BlockStart, result.Sector)

	count, second, err := fs.appendToSector(100, result.Sector, patternBytes(20, 0))
	require.NoError(t, err)
	assert.Equal(t, 20, count)
	assert.False(t, second.Allocated)
	assert.Equal(t, result.Sector, second.Sector)

	sector := make([]byte, SectorSize)
	require.NoError(t, fs.readBlock(result.Sector, sector))
	assert.Equal(t, patternBytes(100, 0), sector[:100])
	assert.Equal(t, patternBytes(20, 0), sector[100:120])
}

// failingWriteStream fails every write that starts at `badOffset`.
type failingWriteStream struct {
	io.ReadWriteSeeker
	badOffset int64
	position  int64
}

func (s *failingWriteStream) Seek(offset int64, whence int) (int64, error) {
	position, err := s.ReadWriteSeeker.Seek(offset, whence)
	s.position = position
	return position, err
}

func (s *failingWriteStream) Read(buffer []byte) (int, error) {
	count, err := s.ReadWriteSeeker.Read(buffer)
	s.position += int64(count)
	return count, err
}

func (s *failingWriteStream) Write(data []byte) (int, error) {
	if s.position == s.badOffset {
		return 0, errors.New("simulated write failure")
	}
	count, err := s.ReadWriteSeeker.Write(data)
	s.position += int64(count)
	return count, err
}

func TestWriteLargeReleasesSectorsWhenInodeUpdateFails(t *testing.T) {
	testCases := []struct {
		name        string
		initialSize int
	}{
		{"data sector", SmallFileMaxSize + SectorSize},
		{"data and indirect sector", AddressesPerSector * SectorSize},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			imageBytes := newFormattedImage(t, 300, 16)
			stream := &failingWriteStream{
				ReadWriteSeeker: dt.NewImageStream(t, imageBytes),
				badOffset:       -1,
			}
			fs, err := MountStream(stream, MountOptions{})
			require.NoError(t, err)
			defer func() {
				stream.badOffset = -1
				require.NoError(t, fs.Unmount())
			}()

			file := createFile(t, fs, "/file")
			_, err = file.Write(patternBytes(tc.initialSize, 31))
			require.NoError(t, err)

			before := file.Inode()
			freeBefore := fs.Stat().BlocksFree

			// The file's inode lives in the first inode sector.
			stream.badOffset = int64(fs.Superblock.InodeStart) * SectorSize
			written, err := file.Write(patternBytes(10, 37))
			assert.ErrorIs(t, err, v6fs.ErrIOFailed)
			assert.Zero(t, written)
			assert.Equal(t, before, file.Inode(), "in-memory inode not restored")
			assert.Equal(t, freeBefore, fs.Stat().BlocksFree, "allocated sectors leaked")

			stream.badOffset = -1
			written, err = file.Write(patternBytes(10, 37))
			require.NoError(t, err)
			assert.Equal(t, 10, written)

			expected := append(patternBytes(tc.initialSize, 31), patternBytes(10, 37)...)
			assert.Equal(t, expected, readWholeFile(t, fs, file.Inumber()))
		})
	}
}
