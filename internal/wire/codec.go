package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Encode serializes m into a datagram-ready byte slice. payloadLen and the
// error flag are recomputed from the payload and status, never trusted from
// a stale Header (spec.md §4.1). When m.checksum is set, a CRC32 of
// (header || payload), big-endian, is appended as a trailer after the
// payload; the header's payloadLen still reflects only the payload. The
// flags byte written to the wire is also stored back into m.Header.Flags.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrBadRequest)
	}
	if !m.Header.MsgType.Known() {
		return nil, fmt.Errorf("%w: unknown msgType %d", ErrBadRequest, m.Header.MsgType)
	}
	if m.Header.MsgType == MsgRequest && !m.Header.OpCode.Known() {
		return nil, fmt.Errorf("%w: unknown opCode %#x", ErrBadRequest, m.Header.OpCode)
	}
	if m.Header.MsgType != MsgReply && m.Header.Status != StatusOK {
		return nil, fmt.Errorf("%w: status must be zero on non-reply messages", ErrBadRequest)
	}

	payload := m.Payload
	if payload == nil {
		payload = NewPayload()
	}
	payloadBytes := payload.encode()
	if len(payloadBytes) > MaxPayloadLen {
		return nil, fmt.Errorf("%w: payload %d bytes exceeds max %d", ErrBadRequest, len(payloadBytes), MaxPayloadLen)
	}

	flags := uint8(0)
	if m.checksum {
		flags |= flagChecksumPresent
	}
	if m.Header.Status != StatusOK {
		flags |= flagError
	}
	m.Header.Flags = flags

	buf := make([]byte, HeaderLen, HeaderLen+len(payloadBytes)+4)
	binary.BigEndian.PutUint16(buf[0:2], Magic)
	buf[2] = Version
	buf[3] = uint8(m.Header.MsgType)
	binary.BigEndian.PutUint16(buf[4:6], HeaderLen)
	binary.BigEndian.PutUint16(buf[6:8], uint16(m.Header.OpCode))
	buf[8] = uint8(m.Header.Semantics)
	buf[9] = flags
	binary.BigEndian.PutUint16(buf[10:12], uint16(m.Header.Status))
	binary.BigEndian.PutUint64(buf[12:20], m.Header.RequestID)
	binary.BigEndian.PutUint32(buf[20:24], m.Header.ClientID)
	binary.BigEndian.PutUint32(buf[24:28], m.Header.SeqNo)
	binary.BigEndian.PutUint32(buf[28:32], uint32(len(payloadBytes)))

	buf = append(buf, payloadBytes...)

	if m.checksum {
		sum := crc32.ChecksumIEEE(buf)
		trailer := make([]byte, 4)
		binary.BigEndian.PutUint32(trailer, sum)
		buf = append(buf, trailer...)
	}
	return buf, nil
}

// Decode parses a received datagram into a Message, validating every
// contractual point in spec.md §4.1: magic/version/headerLen constants,
// msgType range, payloadLen against remaining bytes, exact TLV consumption,
// fixed-width TLV lengths, and (if the checksum flag is set) the trailing
// CRC32 over header||payload.
func Decode(b []byte) (*Message, error) {
	if len(b) < HeaderLen {
		return nil, fmt.Errorf("%w: datagram shorter than header (%d bytes)", ErrBadRequest, len(b))
	}
	magic := binary.BigEndian.Uint16(b[0:2])
	if magic != Magic {
		return nil, fmt.Errorf("%w: bad magic %#x", ErrBadRequest, magic)
	}
	version := b[2]
	if version != Version {
		return nil, fmt.Errorf("%w: bad version %d", ErrBadRequest, version)
	}
	msgType := MsgType(b[3])
	if !msgType.Known() {
		return nil, fmt.Errorf("%w: unknown msgType %d", ErrBadRequest, msgType)
	}
	headerLen := binary.BigEndian.Uint16(b[4:6])
	if headerLen != HeaderLen {
		return nil, fmt.Errorf("%w: bad headerLen %d", ErrBadRequest, headerLen)
	}
	opCode := OpCode(binary.BigEndian.Uint16(b[6:8]))
	if !opCode.Known() {
		return nil, fmt.Errorf("%w: unknown opCode %#x", ErrBadRequest, opCode)
	}
	semantics := Semantics(b[8])
	flags := b[9]
	if flags&^uint8(flagChecksumPresent|flagError) != 0 {
		return nil, fmt.Errorf("%w: reserved flag bits set (%#x)", ErrBadRequest, flags)
	}
	status := Status(binary.BigEndian.Uint16(b[10:12]))
	if !status.Known() {
		return nil, fmt.Errorf("%w: unknown status %d", ErrBadRequest, status)
	}
	if msgType != MsgReply && status != StatusOK {
		return nil, fmt.Errorf("%w: status must be zero in REQ/CBK", ErrBadRequest)
	}
	hasErrorFlag := flags&flagError != 0
	if hasErrorFlag != (status != StatusOK) {
		return nil, fmt.Errorf("%w: error flag does not match status", ErrBadRequest)
	}
	requestID := binary.BigEndian.Uint64(b[12:20])
	clientID := binary.BigEndian.Uint32(b[20:24])
	seqNo := binary.BigEndian.Uint32(b[24:28])
	payloadLen := binary.BigEndian.Uint32(b[28:32])

	rest := b[HeaderLen:]
	checksumPresent := flags&flagChecksumPresent != 0
	wantTrailer := 0
	if checksumPresent {
		wantTrailer = 4
	}
	if uint64(payloadLen)+uint64(wantTrailer) > uint64(len(rest)) {
		return nil, fmt.Errorf("%w: payloadLen %d (+trailer %d) exceeds remaining %d bytes", ErrBadRequest, payloadLen, wantTrailer, len(rest))
	}

	payloadRegion := rest[:payloadLen]
	if checksumPresent {
		trailer := rest[payloadLen : payloadLen+4]
		if int(payloadLen)+4 != len(rest) {
			return nil, fmt.Errorf("%w: trailing bytes after checksum", ErrBadRequest)
		}
		want := binary.BigEndian.Uint32(trailer)
		got := crc32.ChecksumIEEE(b[:HeaderLen+int(payloadLen)])
		if want != got {
			return nil, fmt.Errorf("%w: checksum mismatch (want %#x got %#x)", ErrBadRequest, want, got)
		}
	} else if int(payloadLen) != len(rest) {
		return nil, fmt.Errorf("%w: trailing bytes after payload", ErrBadRequest)
	}

	payload, err := decodePayload(payloadRegion, int(payloadLen))
	if err != nil {
		return nil, err
	}

	return &Message{
		Header: Header{
			MsgType:   msgType,
			OpCode:    opCode,
			Semantics: semantics,
			Flags:     flags,
			Status:    status,
			RequestID: requestID,
			ClientID:  clientID,
			SeqNo:     seqNo,
		},
		Payload:  payload,
		checksum: checksumPresent,
	}, nil
}

// ValidateRequired fails with ErrBadRequest when any TLV required for op
// (per spec.md §3's operations table) is missing from payload.
func ValidateRequired(op OpCode, payload *Payload) error {
	for _, typ := range requiredTLVs[op] {
		if !payload.Has(typ) {
			return fmt.Errorf("%w: opCode %s missing required TLV %#x", ErrBadRequest, op, typ)
		}
	}
	return nil
}
