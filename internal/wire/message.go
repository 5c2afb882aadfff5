package wire

const (
	// HeaderLen is the fixed, contractual header size in bytes (spec.md §3).
	HeaderLen = 32
	// Magic is the constant that must open every encoded message.
	Magic = 0xD5D5
	// Version is the only wire version this codec understands.
	Version = 1
	// MaxPayloadLen is the maximum payload size a single datagram may carry
	// (spec.md §6.1).
	MaxPayloadLen = 65000

	flagChecksumPresent = 1 << 0
	flagError           = 1 << 1
)

// Header is the fixed 32-byte prefix of every Message, laid out exactly as
// spec.md §3 specifies. Field widths and offsets here are load-bearing: any
// other implementation of this protocol must byte-match this layout.
type Header struct {
	MsgType   MsgType
	OpCode    OpCode
	Semantics Semantics
	Flags     uint8
	Status    Status
	RequestID uint64
	ClientID  uint32
	SeqNo     uint32
}

// Message is a decoded unit of wire traffic: a header plus its TLV payload.
// Messages are value-typed — construct one per operation, encode or decode
// it, then discard it (spec.md §3, Ownership & lifecycle).
type Message struct {
	Header    Header
	Payload   *Payload
	checksum  bool // whether to append/require a CRC32 trailer on encode/decode
}

// NewRequestMessage builds a REQ message with requestId derived from
// clientId and seqNo per spec.md's invariant: requestId = (clientId<<32) |
// (seqNo & 0xFFFFFFFF).
func NewRequestMessage(op OpCode, sem Semantics, clientID, seqNo uint32, checksum bool, payload *Payload) *Message {
	if payload == nil {
		payload = NewPayload()
	}
	return &Message{
		Header: Header{
			MsgType:   MsgRequest,
			OpCode:    op,
			Semantics: sem,
			RequestID: RequestID(clientID, seqNo),
			ClientID:  clientID,
			SeqNo:     seqNo,
		},
		Payload:  payload,
		checksum: checksum,
	}
}

// NewReplyMessage builds a REP message echoing the identity fields of req,
// carrying status and payload as the dispatcher's result (spec.md §4.7).
func NewReplyMessage(req *Message, status Status, payload *Payload) *Message {
	if payload == nil {
		payload = NewPayload()
	}
	return &Message{
		Header: Header{
			MsgType:   MsgReply,
			OpCode:    req.Header.OpCode,
			Semantics: req.Header.Semantics,
			Status:    status,
			RequestID: req.Header.RequestID,
			ClientID:  req.Header.ClientID,
			SeqNo:     req.Header.SeqNo,
		},
		Payload:  payload,
		checksum: req.checksum,
	}
}

// NewCallbackMessage builds a best-effort CBK message (spec.md §4.4/§4.7).
// It carries no requestId continuity requirement since callbacks are
// unordered and not retried.
func NewCallbackMessage(op OpCode, clientID, seqNo uint32, checksum bool, payload *Payload) *Message {
	if payload == nil {
		payload = NewPayload()
	}
	return &Message{
		Header: Header{
			MsgType:   MsgCallback,
			OpCode:    op,
			RequestID: RequestID(clientID, seqNo),
			ClientID:  clientID,
			SeqNo:     seqNo,
		},
		Payload:  payload,
		checksum: checksum,
	}
}

// WithChecksum toggles whether encode appends a CRC32 trailer. Returns the
// message for chaining.
func (m *Message) WithChecksum(on bool) *Message {
	m.checksum = on
	return m
}

// RequestID composes the 64-bit identifier from clientId and seqNo per
// spec.md's invariant.
func RequestID(clientID, seqNo uint32) uint64 {
	return uint64(clientID)<<32 | uint64(seqNo)
}

// SplitRequestID decomposes a requestId back into clientId and seqNo.
func SplitRequestID(id uint64) (clientID, seqNo uint32) {
	return uint32(id >> 32), uint32(id & 0xFFFFFFFF)
}

// HasError reports the error-flag law: hasError(flags) iff status != 0.
func (h Header) HasError() bool {
	return h.Flags&flagError != 0
}

// ChecksumPresent reports whether bit0 of flags marks a trailing CRC32.
func (h Header) ChecksumPresent() bool {
	return h.Flags&flagChecksumPresent != 0
}
