package wire

import (
	"encoding/binary"
	"fmt"
)

// TLVType identifies a payload field's semantic kind.
type TLVType uint16

const (
	TLVUsername    TLVType = 0x0001
	TLVPassword    TLVType = 0x0002
	TLVAccountNo   TLVType = 0x0003
	TLVCurrency    TLVType = 0x0004
	TLVAmountCents TLVType = 0x0005
	TLVToAccountNo TLVType = 0x0006
	TLVTTLSeconds  TLVType = 0x0007
	TLVNote        TLVType = 0x0008
)

// fixedWidths gives the required encoded length for TLV types whose value
// kind has a fixed width. Types absent from this map are variable-length
// (UTF-8 byte strings).
var fixedWidths = map[TLVType]int{
	TLVCurrency:    1,
	TLVAmountCents: 8,
	TLVTTLSeconds:  4,
}

// Payload is an ordered collection of TLV fields, keyed by type so that a
// duplicate type within one message replaces the earlier occurrence, per
// spec.md §3.
type Payload struct {
	order  []TLVType
	values map[TLVType][]byte
}

// NewPayload returns an empty, ready-to-use Payload.
func NewPayload() *Payload {
	return &Payload{values: make(map[TLVType][]byte)}
}

// Set stores raw bytes for typ, replacing any previous value but preserving
// first-seen ordering on re-encode.
func (p *Payload) Set(typ TLVType, value []byte) {
	if p.values == nil {
		p.values = make(map[TLVType][]byte)
	}
	if _, exists := p.values[typ]; !exists {
		p.order = append(p.order, typ)
	}
	p.values[typ] = value
}

// SetString stores a UTF-8 string value.
func (p *Payload) SetString(typ TLVType, s string) {
	p.Set(typ, []byte(s))
}

// SetUint8 stores a single-byte unsigned value (used for Currency).
func (p *Payload) SetUint8(typ TLVType, v uint8) {
	p.Set(typ, []byte{v})
}

// SetUint32 stores a big-endian 4-byte unsigned value (used for ttlSeconds).
func (p *Payload) SetUint32(typ TLVType, v uint32) {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	p.Set(typ, b)
}

// SetInt64 stores a big-endian 8-byte signed value (used for amountCents).
func (p *Payload) SetInt64(typ TLVType, v int64) {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	p.Set(typ, b)
}

// Has reports whether typ is present.
func (p *Payload) Has(typ TLVType) bool {
	_, ok := p.values[typ]
	return ok
}

// String returns the UTF-8 string stored for typ, or "" if absent.
func (p *Payload) String(typ TLVType) string {
	return string(p.values[typ])
}

// Uint8 returns the single-byte value stored for typ, or 0 if absent.
func (p *Payload) Uint8(typ TLVType) uint8 {
	v := p.values[typ]
	if len(v) < 1 {
		return 0
	}
	return v[0]
}

// Uint32 returns the big-endian 4-byte value stored for typ, or 0 if absent.
func (p *Payload) Uint32(typ TLVType) uint32 {
	v := p.values[typ]
	if len(v) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}

// Int64 returns the big-endian 8-byte signed value stored for typ, or 0 if
// absent.
func (p *Payload) Int64(typ TLVType) int64 {
	v := p.values[typ]
	if len(v) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(v))
}

// encode serializes the payload's TLVs in first-seen order.
func (p *Payload) encode() []byte {
	var out []byte
	for _, typ := range p.order {
		v := p.values[typ]
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint16(hdr[0:2], uint16(typ))
		binary.BigEndian.PutUint16(hdr[2:4], uint16(len(v)))
		out = append(out, hdr...)
		out = append(out, v...)
	}
	return out
}

// decodePayload parses exactly n bytes of b as a sequence of TLVs. It fails
// if the scan does not consume exactly n bytes, or a fixed-width type has
// the wrong length.
func decodePayload(b []byte, n int) (*Payload, error) {
	if n > len(b) {
		return nil, fmt.Errorf("%w: payloadLen %d exceeds remaining %d bytes", ErrBadRequest, n, len(b))
	}
	region := b[:n]
	p := NewPayload()
	off := 0
	for off < len(region) {
		if off+4 > len(region) {
			return nil, fmt.Errorf("%w: truncated TLV header at offset %d", ErrBadRequest, off)
		}
		typ := TLVType(binary.BigEndian.Uint16(region[off : off+2]))
		length := int(binary.BigEndian.Uint16(region[off+2 : off+4]))
		off += 4
		if off+length > len(region) {
			return nil, fmt.Errorf("%w: TLV value overruns payload at offset %d", ErrBadRequest, off)
		}
		if want, fixed := fixedWidths[typ]; fixed && length != want {
			return nil, fmt.Errorf("%w: TLV type %#x expected length %d, got %d", ErrBadRequest, typ, want, length)
		}
		value := make([]byte, length)
		copy(value, region[off:off+length])
		p.Set(typ, value)
		off += length
	}
	if off != len(region) {
		return nil, fmt.Errorf("%w: TLV scan consumed %d of %d payload bytes", ErrBadRequest, off, len(region))
	}
	return p, nil
}
