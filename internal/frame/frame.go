// Package frame implements the wire framing used by every endpoint and
// client session: a 4-byte big-endian length prefix followed by that
// many payload bytes. It is the direct Go counterpart of the original
// library's message.c.
package frame

import (
	"encoding/binary"
	"io"

	"epfabric/errcode"
)

const headerLen = 4

// MaxLen bounds a single frame's payload size, guarding against a
// corrupt or hostile length prefix driving an unbounded allocation.
const MaxLen = 16 << 20 // 16 MiB

// Drain inspects buf for one complete frame without consuming anything
// the caller doesn't own yet. It returns the payload and true if a full
// frame (header + body) is present at the front of buf; otherwise it
// returns nil, false. The caller is responsible for discarding
// headerLen+len(payload) bytes from its own buffer on success — mirrors
// rteipc_msg_drain's peek-then-consume-only-if-complete contract.
func Drain(buf []byte) (payload []byte, consumed int, ok bool) {
	if len(buf) < headerLen {
		return nil, 0, false
	}
	n := binary.BigEndian.Uint32(buf[:headerLen])
	if n > MaxLen {
		return nil, 0, false
	}
	total := headerLen + int(n)
	if len(buf) < total {
		return nil, 0, false
	}
	payload = make([]byte, n)
	copy(payload, buf[headerLen:total])
	return payload, total, true
}

// FrameInto appends a frame (4-byte big-endian length prefix + payload)
// for data onto dst and returns the extended slice.
func FrameInto(dst []byte, data []byte) []byte {
	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	dst = append(dst, hdr[:]...)
	dst = append(dst, data...)
	return dst
}

// WriteAll writes p to w in full, retrying on short writes, mapping an
// I/O failure to errcode.Io. It is the Go analogue of
// rteipc_msg_write's EINTR/EAGAIN retry loop — Go's io.Writer contract
// already guarantees no such retry is needed at this layer beyond
// looping over an incomplete write.
func WriteAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return errcode.New(errcode.Io, "frame.WriteAll", "", err)
		}
		p = p[n:]
	}
	return nil
}

// WriteFrame frames data and writes it to w in full.
func WriteFrame(w io.Writer, data []byte) error {
	return WriteAll(w, FrameInto(nil, data))
}
