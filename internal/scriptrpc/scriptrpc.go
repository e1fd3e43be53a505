// Package scriptrpc gives the mod/script bridge (message types
// script-rpc and var-sync) a single opaque, cbor-encoded envelope,
// grounded on xendarboh-katzenpost's use of fxamacker/cbor for its
// thin-client wire protocol. ticknet does not interpret Kind or
// Payload; they are a producer/consumer contract owned by the
// embedding game (design note 9).
package scriptrpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is the opaque unit carried by script-rpc and var-sync
// messages.
type Envelope struct {
	Kind    string `cbor:"kind"`
	Payload []byte `cbor:"payload"`
}

// Encode cbor-marshals an envelope for wire transmission.
func Encode(e Envelope) ([]byte, error) {
	b, err := cbor.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("scriptrpc: encode: %w", err)
	}
	return b, nil
}

// Decode cbor-unmarshals a wire payload back into an Envelope.
func Decode(b []byte) (Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(b, &e); err != nil {
		return e, fmt.Errorf("scriptrpc: decode: %w", err)
	}
	return e, nil
}
