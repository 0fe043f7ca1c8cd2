package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// MaxFrameSize bounds the length prefix so a corrupt or hostile peer can't
// force an unbounded allocation. Real CastMessages are well under 64KiB.
const MaxFrameSize = 1 << 20 // 1 MiB

// framePool recycles read/write scratch buffers, generalizing the teacher's
// sync.Pool-based datagram buffer reuse to a named byte-buffer pool.
var framePool bytebufferpool.Pool

// Conn is the minimal byte-stream contract the codec needs; satisfied by
// *tls.Conn and by any io.Reader/io.Writer pair in tests.
type Conn interface {
	io.Reader
	io.Writer
}

// Codec frames Messages over a Conn: 4-byte big-endian length prefix
// followed by exactly that many bytes of protobuf-encoded CastMessage.
// Reads and writes may be called concurrently from different goroutines
// (one reader, one writer), but concurrent writers must use WriteMessage's
// own lock — it serializes the write side so a length prefix and its body
// are never interleaved with another writer's frame.
type Codec struct {
	conn Conn

	writeMu sync.Mutex
}

// NewCodec wraps conn for framed CastMessage I/O.
func NewCodec(conn Conn) *Codec {
	return &Codec{conn: conn}
}

// ReadMessage reads exactly one frame and decodes it. It never reads past
// the frame boundary, so arbitrary TCP/TLS fragmentation is tolerated.
func (c *Codec) ReadMessage() (*Message, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(c.conn, lenBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("wire: frame size %d exceeds limit %d", n, MaxFrameSize)
	}

	buf := framePool.Get()
	defer framePool.Put(buf)
	buf.Set(nil)
	body := buf.B[:0]
	if cap(body) < int(n) {
		body = make([]byte, n)
	} else {
		body = body[:n]
	}
	if _, err := io.ReadFull(c.conn, body); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}

	msg, err := Unmarshal(body)
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// WriteMessage serializes m and writes the length-prefixed frame
// atomically: no other WriteMessage call can interleave bytes with it.
func (c *Codec) WriteMessage(m *Message) error {
	body := Marshal(m)
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: encoded frame size %d exceeds limit %d", len(body), MaxFrameSize)
	}

	buf := framePool.Get()
	defer framePool.Put(buf)
	buf.Set(nil)
	buf.B = append(buf.B, 0, 0, 0, 0)
	binary.BigEndian.PutUint32(buf.B, uint32(len(body)))
	buf.B = append(buf.B, body...)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(buf.B)
	if err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}
