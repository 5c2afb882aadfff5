package wire

import "errors"

// ErrBadRequest marks a decode or validation failure that corresponds to
// spec.md's protocol-error taxonomy (§7): bad framing, bad TLV, or a
// missing required field. Callers use errors.Is to classify failures
// without string matching.
var ErrBadRequest = errors.New("wire: bad request")
