// Package testing contains helpers for building in-memory disk images in tests.
package testing

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// CreateRandomImage creates an image with the given number of blocks and bytes
// per block, filled with random bytes. It is guaranteed to either return a valid
// slice or fail the test and abort.
func CreateRandomImage(bytesPerBlock, totalBlocks uint, t *testing.T) []byte {
	backingData := make([]byte, bytesPerBlock*totalBlocks)

	_, err := rand.Read(backingData)
	require.NoErrorf(
		t,
		err,
		"failed to initialize %d blocks of size %d with random bytes",
		totalBlocks,
		bytesPerBlock,
	)
	return backingData
}

// fixedSizeStream hides every method of the wrapped stream other than Read,
// Write, and Seek, so that code under test can't resize or close it.
type fixedSizeStream struct {
	io.ReadWriteSeeker
}

// NewImageStream wraps `imageBytes` in a stream. Writes to the stream modify
// `imageBytes` directly; its size is fixed, so attempting to write past the end
// of the buffer triggers an error. Several streams can be opened on the same
// slice, e.g. to simulate unmounting and remounting an image.
func NewImageStream(t *testing.T, imageBytes []byte) io.ReadWriteSeeker {
	require.Greater(t, len(imageBytes), 0, "image is empty")
	return fixedSizeStream{bytesextra.NewReadWriteSeeker(imageBytes)}
}

// CreateBlankImage returns a zero-filled image of `totalBlocks` 512-byte
// sectors, along with the backing slice so tests can inspect the raw bytes.
func CreateBlankImage(t *testing.T, totalBlocks uint) (io.ReadWriteSeeker, []byte) {
	imageBytes := make([]byte, totalBlocks*512)
	return NewImageStream(t, imageBytes), imageBytes
}

// CreateRandomImageStream is like [CreateBlankImage] but the image is filled
// with garbage, which is useful for making sure code doesn't rely on the
// contents of uninitialized sectors.
func CreateRandomImageStream(t *testing.T, totalBlocks uint) (io.ReadWriteSeeker, []byte) {
	imageBytes := CreateRandomImage(512, totalBlocks, t)
	return NewImageStream(t, imageBytes), imageBytes
}
