package mockos

import (
	"io"

	"github.com/pkg/errors"
)

const chunkSize = 64 * 1024

// image is a sparse in-memory disk image. Unwritten regions read as zeros.
type image struct {
	size   int64
	chunks map[int64][]byte
	pos    int64
}

func newImage(size uint64) *image {
	return &image{size: int64(size), chunks: map[int64][]byte{}}
}

func (im *image) ReadAt(p []byte, off int64) (int, error) {
	if off >= im.size {
		return 0, io.EOF
	}

	n := 0

	for n < len(p) && off+int64(n) < im.size {
		cur := off + int64(n)
		idx, coff := cur/chunkSize, cur%chunkSize
		want := len(p) - n

		if room := int(chunkSize - coff); want > room {
			want = room
		}

		if left := im.size - cur; int64(want) > left {
			want = int(left)
		}

		if chunk, ok := im.chunks[idx]; ok {
			copy(p[n:n+want], chunk[coff:])
		} else {
			for i := n; i < n+want; i++ {
				p[i] = 0
			}
		}

		n += want
	}

	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (im *image) WriteAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > im.size {
		return 0, errors.Errorf("write of %d bytes at %d is past the end (%d)", len(p), off, im.size)
	}

	n := 0

	for n < len(p) {
		cur := off + int64(n)
		idx, coff := cur/chunkSize, cur%chunkSize

		chunk, ok := im.chunks[idx]
		if !ok {
			chunk = make([]byte, chunkSize)
			im.chunks[idx] = chunk
		}

		n += copy(chunk[coff:], p[n:])
	}

	return n, nil
}

func (im *image) Read(p []byte) (int, error) {
	n, err := im.ReadAt(p, im.pos)
	im.pos += int64(n)

	return n, err
}

func (im *image) Write(p []byte) (int, error) {
	n, err := im.WriteAt(p, im.pos)
	im.pos += int64(n)

	return n, err
}

func (im *image) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += im.pos
	case io.SeekEnd:
		offset += im.size
	default:
		return 0, errors.Errorf("bad whence %d", whence)
	}

	if offset < 0 {
		return 0, errors.Errorf("negative offset %d", offset)
	}

	im.pos = offset

	return offset, nil
}
