// Package wire implements the CASTV2 frame format: a big-endian u32 length
// prefix around a protobuf CastMessage.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// PayloadType selects which payload field of a Message is populated.
type PayloadType int32

const (
	PayloadString PayloadType = 0
	PayloadBinary PayloadType = 1
)

// ProtocolVersion identifies the CastMessage wire version. Only CASTV2_1_0
// has ever shipped.
type ProtocolVersion int32

const ProtocolVersionCastV2_1_0 ProtocolVersion = 0

// Message is the Go representation of the cast_channel.proto CastMessage.
// Field numbers below match the public proto so the encoding is wire
// compatible with real receivers.
type Message struct {
	ProtocolVersion ProtocolVersion
	SourceID        string
	DestinationID   string
	Namespace       string
	PayloadType     PayloadType
	PayloadUTF8     string // valid when PayloadType == PayloadString
	PayloadBinary   []byte // valid when PayloadType == PayloadBinary
}

const (
	fieldProtocolVersion = 1
	fieldSourceID        = 2
	fieldDestinationID   = 3
	fieldNamespace       = 4
	fieldPayloadType     = 5
	fieldPayloadUTF8     = 6
	fieldPayloadBinary   = 7
)

// Marshal encodes m as a protobuf CastMessage. All fields are written
// unconditionally except the payload, which follows PayloadType.
func Marshal(m *Message) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldProtocolVersion, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.ProtocolVersion))
	b = protowire.AppendTag(b, fieldSourceID, protowire.BytesType)
	b = protowire.AppendString(b, m.SourceID)
	b = protowire.AppendTag(b, fieldDestinationID, protowire.BytesType)
	b = protowire.AppendString(b, m.DestinationID)
	b = protowire.AppendTag(b, fieldNamespace, protowire.BytesType)
	b = protowire.AppendString(b, m.Namespace)
	b = protowire.AppendTag(b, fieldPayloadType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.PayloadType))
	switch m.PayloadType {
	case PayloadBinary:
		b = protowire.AppendTag(b, fieldPayloadBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, m.PayloadBinary)
	default:
		b = protowire.AppendTag(b, fieldPayloadUTF8, protowire.BytesType)
		b = protowire.AppendString(b, m.PayloadUTF8)
	}
	return b
}

// Unmarshal decodes a protobuf CastMessage. Unknown fields are skipped so
// future receiver-side additions don't break the client.
func Unmarshal(data []byte) (*Message, error) {
	m := &Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("wire: invalid tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch num {
		case fieldProtocolVersion:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: protocol_version: %w", protowire.ParseError(n))
			}
			m.ProtocolVersion = ProtocolVersion(v)
			data = data[n:]
		case fieldSourceID:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: source_id: %w", protowire.ParseError(n))
			}
			m.SourceID = v
			data = data[n:]
		case fieldDestinationID:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: destination_id: %w", protowire.ParseError(n))
			}
			m.DestinationID = v
			data = data[n:]
		case fieldNamespace:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: namespace: %w", protowire.ParseError(n))
			}
			m.Namespace = v
			data = data[n:]
		case fieldPayloadType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: payload_type: %w", protowire.ParseError(n))
			}
			m.PayloadType = PayloadType(v)
			data = data[n:]
		case fieldPayloadUTF8:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: payload_utf8: %w", protowire.ParseError(n))
			}
			m.PayloadUTF8 = v
			data = data[n:]
		case fieldPayloadBinary:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("wire: payload_binary: %w", protowire.ParseError(n))
			}
			m.PayloadBinary = append([]byte(nil), v...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("wire: skip field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return m, nil
}
