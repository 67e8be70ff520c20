package wiremesh

import (
	"encoding/binary"
	"io"

	"github.com/valyala/bytebufferpool"
)

// encodeFrame writes a u32-be length prefix followed by payload to w, as
// one buffered write (spec §4.1). Grounded on relaydns/helper.go's
// writePacket.
func encodeFrame(w io.Writer, payload []byte) error {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(payload)))
	buf.Write(size[:])
	buf.Write(payload)
	_, err := w.Write(buf.B)
	return err
}

// decodeFrame reads one length-prefixed frame from r, enforcing maxBytes
// (spec §4.1: FrameTooLarge/Eof/Truncated).
func decodeFrame(r io.Reader, maxBytes uint32) ([]byte, error) {
	var size [4]byte
	if _, err := io.ReadFull(r, size[:]); err != nil {
		if err == io.EOF {
			return nil, ErrEof
		}
		return nil, newErr(KindTruncated, err)
	}

	n := binary.BigEndian.Uint32(size[:])
	if n > maxBytes {
		return nil, ErrFrameTooLarge
	}

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	growBuffer(buf, int(n))

	payload := buf.B[:n]
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, newErr(KindTruncated, err)
	}

	out := make([]byte, n)
	copy(out, payload)
	return out, nil
}

// growBuffer ensures buf.B has capacity n, rounding up to a 16KiB page —
// same growth policy as relaydns/helper.go's bufferGrow.
func growBuffer(buf *bytebufferpool.ByteBuffer, n int) {
	const page = 1 << 14
	if n > cap(buf.B) {
		buf.B = make([]byte, ((n+page-1)/page)*page)
	}
	buf.B = buf.B[:n]
}
