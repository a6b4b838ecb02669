package common

import (
	"fmt"
	"io"

	"github.com/dargueta/v6fs"
)

// BlockStream is an abstraction layer around a stream to make it look like a
// block device, i.e. something that can only be read from or written to one
// whole block at a time.
//
// The exposed fields are for informational purposes only and should never be
// changed directly.
type BlockStream struct {
	// BytesPerBlock gives the size of a block on this device, in bytes.
	BytesPerBlock uint
	// TotalBlocks is the total number of addressable blocks in this stream.
	TotalBlocks uint
	stream      io.ReadWriteSeeker
}

// NewBlockStream wraps `stream` with 512-byte blocks. Only the first
// `totalBlocks` blocks of the stream are addressable.
func NewBlockStream(stream io.ReadWriteSeeker, totalBlocks uint) *BlockStream {
	return &BlockStream{
		BytesPerBlock: DefaultBytesPerBlock,
		TotalBlocks:   totalBlocks,
		stream:        stream,
	}
}

// NewBlockStreamWithInferredSize is like [NewBlockStream] but takes the number
// of blocks from the current size of the stream.
func NewBlockStreamWithInferredSize(stream io.ReadWriteSeeker) (*BlockStream, error) {
	totalBlocks, err := DetermineBlockCount(stream, DefaultBytesPerBlock)
	if err != nil {
		return nil, err
	}
	return NewBlockStream(stream, totalBlocks), nil
}

// DetermineBlockCount gives the total number of blocks in a stream, rounded down
// to the nearest block.
func DetermineBlockCount(stream io.Seeker, blockSize uint) (uint, error) {
	offset, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, v6fs.ErrIOFailed.WithMessage("can't determine image size").Wrap(err)
	}
	return uint(offset / int64(blockSize)), nil
}

// BlockIDToFileOffset converts a block ID into a byte offset into the backing
// I/O stream.
func (device *BlockStream) BlockIDToFileOffset(blockID BlockID) (int64, error) {
	if uint(blockID) >= device.TotalBlocks {
		return -1, v6fs.ErrArgumentOutOfRange.WithMessage(
			fmt.Sprintf(
				"invalid block ID %d: not in range [0, %d)",
				blockID,
				device.TotalBlocks))
	}
	return int64(blockID) * int64(device.BytesPerBlock), nil
}

// seekToBlock positions the stream pointer at the byte offset where the given
// block starts.
func (device *BlockStream) seekToBlock(blockID BlockID) error {
	offset, err := device.BlockIDToFileOffset(blockID)
	if err != nil {
		return err
	}

	_, err = device.stream.Seek(offset, io.SeekStart)
	if err != nil {
		return v6fs.ErrIOFailed.WithMessage(
			fmt.Sprintf("seek to block %d failed", blockID)).Wrap(err)
	}
	return nil
}

// ReadSector fills the first block-sized chunk of `buffer` with the contents of
// the given block.
func (device *BlockStream) ReadSector(blockID BlockID, buffer []byte) error {
	if uint(len(buffer)) < device.BytesPerBlock {
		return v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"buffer must be at least %d bytes, got %d",
				device.BytesPerBlock,
				len(buffer)))
	}

	err := device.seekToBlock(blockID)
	if err != nil {
		return err
	}

	_, err = io.ReadFull(device.stream, buffer[:device.BytesPerBlock])
	if err != nil {
		return v6fs.ErrIOFailed.WithMessage(
			fmt.Sprintf("read of block %d failed", blockID)).Wrap(err)
	}
	return nil
}

// WriteSector writes exactly one block. `data` must be at least one block long;
// anything past the first block is ignored.
func (device *BlockStream) WriteSector(blockID BlockID, data []byte) error {
	if uint(len(data)) < device.BytesPerBlock {
		return v6fs.ErrInvalidArgument.WithMessage(
			fmt.Sprintf(
				"data must be at least %d bytes, got %d",
				device.BytesPerBlock,
				len(data)))
	}

	err := device.seekToBlock(blockID)
	if err != nil {
		return err
	}

	written, err := device.stream.Write(data[:device.BytesPerBlock])
	if err != nil {
		return v6fs.ErrIOFailed.WithMessage(
			fmt.Sprintf("write to block %d failed", blockID)).Wrap(err)
	} else if uint(written) != device.BytesPerBlock {
		return v6fs.ErrIOFailed.WithMessage(
			fmt.Sprintf(
				"short write to block %d: expected %d B, wrote %d",
				blockID,
				device.BytesPerBlock,
				written))
	}
	return nil
}

// Resize changes the number of addressable blocks. If the underlying stream
// supports truncation (e.g. an [os.File]) it's resized as well; otherwise it's
// the caller's responsibility to ensure the stream is big enough.
func (device *BlockStream) Resize(totalBlocks uint) error {
	if truncator, ok := device.stream.(Truncator); ok {
		err := truncator.Truncate(int64(totalBlocks) * int64(device.BytesPerBlock))
		if err != nil {
			return v6fs.ErrIOFailed.WithMessage(
				fmt.Sprintf("can't resize image to %d blocks", totalBlocks)).Wrap(err)
		}
	}
	device.TotalBlocks = totalBlocks
	return nil
}

// Close closes the underlying stream if it supports it.
func (device *BlockStream) Close() error {
	if closer, ok := device.stream.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
