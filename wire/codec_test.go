package wire

import (
	"bytes"
	"io"
	"testing"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	in := &Message{
		ProtocolVersion: ProtocolVersionCastV2_1_0,
		SourceID:        "sender-0",
		DestinationID:   "receiver-0",
		Namespace:       "urn:x-cast:com.google.cast.receiver",
		PayloadType:     PayloadString,
		PayloadUTF8:     `{"type":"GET_STATUS","requestId":1}`,
	}

	data := Marshal(in)
	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.SourceID != in.SourceID || out.DestinationID != in.DestinationID ||
		out.Namespace != in.Namespace || out.PayloadUTF8 != in.PayloadUTF8 ||
		out.PayloadType != in.PayloadType {
		t.Fatalf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestMarshalUnmarshalBinaryPayload(t *testing.T) {
	in := &Message{
		SourceID:      "sender-0",
		DestinationID: "receiver-0",
		Namespace:     "urn:x-cast:com.google.cast.tp.heartbeat",
		PayloadType:   PayloadBinary,
		PayloadBinary: []byte{0xDE, 0xAD, 0xBE, 0xEF},
	}
	out, err := Unmarshal(Marshal(in))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !bytes.Equal(out.PayloadBinary, in.PayloadBinary) {
		t.Fatalf("payload mismatch: got %v, want %v", out.PayloadBinary, in.PayloadBinary)
	}
}

func TestUnmarshalSkipsUnknownFields(t *testing.T) {
	// A well-formed message with an extra unknown field (tag 99, varint 42)
	// appended must still decode the fields we know about.
	in := &Message{SourceID: "sender-0", Namespace: "ns", PayloadType: PayloadString, PayloadUTF8: "{}"}
	data := Marshal(in)
	data = append(data, 0x98, 0x06, 42) // field 99, varint wire type, value 42

	out, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if out.SourceID != "sender-0" || out.Namespace != "ns" {
		t.Fatalf("known fields lost: %+v", out)
	}
}

// fragmentingConn feeds reads back in small, arbitrary chunks to exercise
// ReadMessage's tolerance of TCP/TLS fragmentation.
type fragmentingConn struct {
	data      []byte
	chunkSize int
}

func (f *fragmentingConn) Read(p []byte) (int, error) {
	if len(f.data) == 0 {
		return 0, io.EOF
	}
	n := f.chunkSize
	if n > len(f.data) {
		n = len(f.data)
	}
	if n > len(p) {
		n = len(p)
	}
	copy(p, f.data[:n])
	f.data = f.data[n:]
	return n, nil
}

func (f *fragmentingConn) Write(p []byte) (int, error) { return len(p), nil }

func TestReadMessageToleratesFragmentation(t *testing.T) {
	msg := &Message{
		SourceID:      "sender-0",
		DestinationID: "receiver-0",
		Namespace:     "urn:x-cast:com.google.cast.receiver",
		PayloadType:   PayloadString,
		PayloadUTF8:   `{"type":"RECEIVER_STATUS"}`,
	}

	var framed bytes.Buffer
	full := NewCodec(&framed)
	if err := full.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	for _, chunk := range []int{1, 3, 7} {
		conn := &fragmentingConn{data: append([]byte(nil), framed.Bytes()...), chunkSize: chunk}
		codec := NewCodec(conn)
		out, err := codec.ReadMessage()
		if err != nil {
			t.Fatalf("chunkSize=%d: ReadMessage: %v", chunk, err)
		}
		if out.PayloadUTF8 != msg.PayloadUTF8 {
			t.Fatalf("chunkSize=%d: payload mismatch: got %q", chunk, out.PayloadUTF8)
		}
	}
}

func TestWriteMessageAtomicUnderConcurrency(t *testing.T) {
	var buf bytes.Buffer
	codec := NewCodec(&buf)

	const n = 50
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			done <- codec.WriteMessage(&Message{
				SourceID:      "sender-0",
				DestinationID: "receiver-0",
				Namespace:     "ns",
				PayloadType:   PayloadString,
				PayloadUTF8:   "{}",
			})
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-done; err != nil {
			t.Fatalf("WriteMessage: %v", err)
		}
	}

	// Every frame must be independently parseable back-to-back: if writes
	// interleaved, at least one length prefix would be corrupted.
	reader := NewCodec(&buf)
	for i := 0; i < n; i++ {
		if _, err := reader.ReadMessage(); err != nil {
			t.Fatalf("frame %d: ReadMessage: %v", i, err)
		}
	}
}
