package unixv6

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/dargueta/v6fs"
	"github.com/noxer/bytewriter"
)

type Inumber uint16
type BlockNum uint16

const (
	SectorSize       = 512
	BootSector       = BlockNum(0)
	SuperblockSector = BlockNum(1)

	// BootMagic is the first byte of a bootable v6 disk: the low byte of the
	// PDP-11 instruction 0407 that starts every a.out boot block.
	BootMagicOffset = 0
	BootMagic       = 0x07

	InodeSize       = 32
	InodesPerSector = SectorSize / InodeSize
	// MaxInodeCapacity is the largest inode area an [Inumber] can address,
	// counting the unused record 0.
	MaxInodeCapacity = 1 << 16
	MaxInodeSectors  = MaxInodeCapacity / InodesPerSector

	AddressListLength  = 8
	AddressesPerSector = SectorSize / 2
	// The last address slot of a large file is reserved for a doubly indirect
	// block, which isn't supported.
	IndirectSlots = AddressListLength - 1

	SmallFileMaxSize = AddressListLength * SectorSize
	LargeFileMaxSize = IndirectSlots * AddressesPerSector * SectorSize

	DirentSize       = 16
	MaxNameLength    = 14
	DirentsPerSector = SectorSize / DirentSize

	RootInumber = Inumber(1)
)

// On-disk inode mode bits.
const (
	FlagIsAllocated     = 0o100000
	FileTypeMask        = 0o060000
	FileTypeBlockDevice = 0o060000
	FileTypeDirectory   = 0o040000
	FileTypeCharDevice  = 0o020000
	FileTypePlainFile   = 0o000000
	FlagIsLargeFile     = 0o010000
	FlagSetUID          = 0o004000
	FlagSetGID          = 0o002000
	FlagSticky          = 0o001000
	PermissionsMask     = 0o000777
)

const DefaultDirectoryMode = FlagIsAllocated | FileTypeDirectory | 0o755
const DefaultFileMode = FlagIsAllocated | FileTypePlainFile | 0o644

// SerializeTimestamp converts a time into the two-word on-disk format, most
// significant word first.
func SerializeTimestamp(tstamp time.Time) [2]uint16 {
	seconds := uint32(tstamp.Unix())
	return [2]uint16{uint16(seconds >> 16), uint16(seconds)}
}

func DeserializeTimestamp(tstamp [2]uint16) time.Time {
	return time.Unix(int64(uint32(tstamp[0])<<16|uint32(tstamp[1])), 0)
}

// Superblock -----------------------------------------------------------------

// Superblock is the 24-byte header stored at the beginning of sector 1. The
// bitmap fields are carried over from the format but unused: free space maps
// are rebuilt at mount time and never stored.
type Superblock struct {
	InodeAreaSize    uint16 // s_isize
	TotalBlocks      uint16 // s_fsize
	FreeBitmapSize   uint16
	InodeBitmapSize  uint16
	InodeStart       uint16
	BlockStart       uint16
	FreeBitmapStart  uint16
	InodeBitmapStart uint16
	FreeListLock     uint8
	InodeLock        uint8
	Modified         uint8
	ReadOnly         uint8
	ModifiedAt       [2]uint16
}

// InodeCapacity is the number of inode records in the inode area, including the
// never-used record 0.
func (sb *Superblock) InodeCapacity() uint {
	return uint(sb.InodeAreaSize) * InodesPerSector
}

// Validate checks the geometry for internal consistency against a device with
// `deviceBlocks` sectors.
func (sb *Superblock) Validate(deviceBlocks uint) error {
	switch {
	case sb.InodeAreaSize == 0:
		return v6fs.ErrFileSystemCorrupted.WithMessage("inode area is empty")
	case sb.InodeAreaSize > MaxInodeSectors:
		return v6fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"inode area has %d sectors, more than the %d that inode numbers can address",
				sb.InodeAreaSize,
				MaxInodeSectors))
	case sb.InodeStart < uint16(SuperblockSector)+1:
		return v6fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf("inode area starts at %d, overlapping the superblock", sb.InodeStart))
	case uint(sb.BlockStart) != uint(sb.InodeStart)+uint(sb.InodeAreaSize):
		return v6fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"data area starts at %d, expected %d",
				sb.BlockStart,
				uint(sb.InodeStart)+uint(sb.InodeAreaSize)))
	case sb.BlockStart >= sb.TotalBlocks:
		return v6fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"no data blocks: data area starts at %d, file system has %d blocks",
				sb.BlockStart,
				sb.TotalBlocks))
	case uint(sb.TotalBlocks) > deviceBlocks:
		return v6fs.ErrFileSystemCorrupted.WithMessage(
			fmt.Sprintf(
				"file system claims %d blocks but the image only has %d",
				sb.TotalBlocks,
				deviceBlocks))
	}
	return nil
}

func (sb *Superblock) String() string {
	builder := strings.Builder{}
	fmt.Fprintln(&builder, "**********FS SUPERBLOCK START**********")
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_isize", sb.InodeAreaSize)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_fsize", sb.TotalBlocks)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_fbmsize", sb.FreeBitmapSize)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_ibmsize", sb.InodeBitmapSize)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_inode_start", sb.InodeStart)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_block_start", sb.BlockStart)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_fbm_start", sb.FreeBitmapStart)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_ibm_start", sb.InodeBitmapStart)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_flock", sb.FreeListLock)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_ilock", sb.InodeLock)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_fmod", sb.Modified)
	fmt.Fprintf(&builder, "%-20s: %d\n", "s_ronly", sb.ReadOnly)
	fmt.Fprintf(
		&builder,
		"%-20s: [%d] %d (%s)\n",
		"s_time",
		sb.ModifiedAt[0],
		sb.ModifiedAt[1],
		DeserializeTimestamp(sb.ModifiedAt).UTC().Format(time.RFC3339))
	fmt.Fprint(&builder, "**********FS SUPERBLOCK END**********")
	return builder.String()
}

// DecodeSuperblock reads a superblock from the beginning of `sector`.
func DecodeSuperblock(sector []byte) (Superblock, error) {
	var sb Superblock
	err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &sb)
	if err != nil {
		return Superblock{}, v6fs.ErrFileSystemCorrupted.WithMessage(
			"can't decode superblock").Wrap(err)
	}
	return sb, nil
}

// EncodeSuperblock writes the superblock into the beginning of `sector`,
// leaving the rest of the sector untouched.
func EncodeSuperblock(sb *Superblock, sector []byte) error {
	writer := bytewriter.New(sector)
	err := binary.Write(writer, binary.LittleEndian, sb)
	if err != nil {
		return v6fs.ErrInvalidArgument.WithMessage("can't encode superblock").Wrap(err)
	}
	return nil
}

// Inodes ---------------------------------------------------------------------

// Inode is a single 32-byte record in the inode area. The file size is split
// across two fields on disk; use [Inode.Size] and [Inode.SetSize] to access it.
type Inode struct {
	Mode         uint16
	NLink        uint8
	UID          uint8
	GID          uint8
	SizeHigh     uint8
	SizeLow      uint16
	Addr         [AddressListLength]BlockNum
	AccessedTime [2]uint16
	ModifiedTime [2]uint16
}

func (inode *Inode) Size() uint32 {
	return uint32(inode.SizeHigh)<<16 | uint32(inode.SizeLow)
}

// SetSize stores `size` in the split size field. Only the low 24 bits are kept.
func (inode *Inode) SetSize(size uint32) {
	inode.SizeHigh = uint8(size >> 16)
	inode.SizeLow = uint16(size)
}

func (inode *Inode) IsAllocated() bool {
	return inode.Mode&FlagIsAllocated != 0
}

func (inode *Inode) IsDir() bool {
	return inode.Mode&FileTypeMask == FileTypeDirectory
}

// IsLarge reports whether the address list holds indirect sectors. This is
// derived from the size alone; the large-file flag in the mode is informational.
func (inode *Inode) IsLarge() bool {
	return inode.Size() > SmallFileMaxSize
}

// SectorCount gives the number of data sectors needed to hold the file's
// contents.
func (inode *Inode) SectorCount() uint32 {
	return (inode.Size() + SectorSize - 1) / SectorSize
}

// POSIXMode converts the on-disk mode into a `st_mode` value. The allocation
// and large-file flags have no meaning outside the file system and are dropped.
func (inode *Inode) POSIXMode() uint32 {
	mode := uint32(inode.Mode) & (FlagSetUID | FlagSetGID | FlagSticky | PermissionsMask)

	switch inode.Mode & FileTypeMask {
	case FileTypeDirectory:
		mode |= v6fs.S_IFDIR
	case FileTypeCharDevice:
		mode |= v6fs.S_IFCHR
	case FileTypeBlockDevice:
		mode |= v6fs.S_IFBLK
	default:
		mode |= v6fs.S_IFREG
	}
	return mode
}

func (inode *Inode) String() string {
	builder := strings.Builder{}
	fmt.Fprintln(&builder, "**********FS INODE START**********")
	fmt.Fprintf(&builder, "i_mode: %#o (%s)\n", inode.Mode, v6fs.FileModeFromPOSIX(inode.POSIXMode()))
	fmt.Fprintf(&builder, "i_nlink: %d\n", inode.NLink)
	fmt.Fprintf(&builder, "i_uid: %d\n", inode.UID)
	fmt.Fprintf(&builder, "i_gid: %d\n", inode.GID)
	fmt.Fprintf(&builder, "i_size0: %d\n", inode.SizeHigh)
	fmt.Fprintf(&builder, "i_size1: %d\n", inode.SizeLow)
	fmt.Fprintf(&builder, "size: %d\n", inode.Size())
	fmt.Fprintf(&builder, "i_addr: %v\n", inode.Addr)
	fmt.Fprintf(&builder, "i_atime: %s\n", DeserializeTimestamp(inode.AccessedTime).UTC().Format(time.RFC3339))
	fmt.Fprintf(&builder, "i_mtime: %s\n", DeserializeTimestamp(inode.ModifiedTime).UTC().Format(time.RFC3339))
	fmt.Fprint(&builder, "**********FS INODE END**********")
	return builder.String()
}

// DecodeInodeSector decodes all inode records stored in one sector of the
// inode area.
func DecodeInodeSector(sector []byte) ([InodesPerSector]Inode, error) {
	var inodes [InodesPerSector]Inode
	err := binary.Read(bytes.NewReader(sector), binary.LittleEndian, &inodes)
	if err != nil {
		return inodes, v6fs.ErrFileSystemCorrupted.WithMessage(
			"can't decode inode sector").Wrap(err)
	}
	return inodes, nil
}

// EncodeInode overwrites record number `slot` of an inode-area sector.
func EncodeInode(inode *Inode, sector []byte, slot int) error {
	if slot < 0 || slot >= InodesPerSector {
		return v6fs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf("inode slot %d not in range [0, %d)", slot, InodesPerSector))
	}

	writer := bytewriter.New(sector[slot*InodeSize : (slot+1)*InodeSize])
	err := binary.Write(writer, binary.LittleEndian, inode)
	if err != nil {
		return v6fs.ErrInvalidArgument.WithMessage("can't encode inode").Wrap(err)
	}
	return nil
}

// Indirect sectors -------------------------------------------------------------

func getIndirectEntry(sector []byte, index uint32) BlockNum {
	return BlockNum(binary.LittleEndian.Uint16(sector[index*2:]))
}

func putIndirectEntry(sector []byte, index uint32, block BlockNum) {
	binary.LittleEndian.PutUint16(sector[index*2:], uint16(block))
}

// Directory entries ------------------------------------------------------------

// RawDirent is a single directory entry. Names shorter than [MaxNameLength] are
// padded with null bytes; a name of exactly [MaxNameLength] bytes has no
// terminator.
type RawDirent struct {
	Inumber Inumber
	Name    [MaxNameLength]byte
}

// NewRawDirent builds a directory entry, failing if the name doesn't fit.
func NewRawDirent(name string, inumber Inumber) (RawDirent, error) {
	if len(name) > MaxNameLength {
		return RawDirent{}, v6fs.ErrNameTooLong.WithMessage(
			fmt.Sprintf("%q is %d bytes, max is %d", name, len(name), MaxNameLength))
	}

	dirent := RawDirent{Inumber: inumber}
	copy(dirent.Name[:], name)
	return dirent, nil
}

// NameString returns the name up to its first null byte.
func (dirent *RawDirent) NameString() string {
	length := bytes.IndexByte(dirent.Name[:], 0)
	if length < 0 {
		length = MaxNameLength
	}
	return string(dirent.Name[:length])
}

// Encode returns the 16-byte on-disk form of the entry.
func (dirent *RawDirent) Encode() []byte {
	encoded := make([]byte, DirentSize)
	writer := bytewriter.New(encoded)
	// The buffer is exactly the size of the struct, so this can't fail.
	_ = binary.Write(writer, binary.LittleEndian, dirent)
	return encoded
}

// DecodeDirents decodes as many whole directory entries as `data` contains.
// Trailing bytes that don't make up a whole entry are ignored.
func DecodeDirents(data []byte) ([]RawDirent, error) {
	dirents := make([]RawDirent, len(data)/DirentSize)
	if len(dirents) == 0 {
		return dirents, nil
	}

	err := binary.Read(bytes.NewReader(data), binary.LittleEndian, dirents)
	if err != nil {
		return nil, v6fs.ErrFileSystemCorrupted.WithMessage(
			"can't decode directory entries").Wrap(err)
	}
	return dirents, nil
}
