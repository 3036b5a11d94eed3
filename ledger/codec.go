package ledger

import (
	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so identical entries produce identical bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("ledger: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("ledger: CBOR decoder initialization failed: " + err.Error())
	}
}

// Entry is one record of the event stream.
type Entry struct {
	StreamID     string            `cbor:"-"`
	ID           string            `cbor:"id"`
	AtMillis     int64             `cbor:"at"`
	Kind         string            `cbor:"kind"`
	TokenID      string            `cbor:"token_id,omitempty"`
	ConnectionID string            `cbor:"connection_id,omitempty"`
	IP           string            `cbor:"ip,omitempty"`
	Success      bool              `cbor:"success"`
	Error        string            `cbor:"error,omitempty"`
	Metadata     map[string]string `cbor:"metadata,omitempty"`
}

func encodeEntry(e Entry) ([]byte, error) {
	return encMode.Marshal(e)
}

func decodeEntry(data []byte) (Entry, error) {
	var e Entry
	err := decMode.Unmarshal(data, &e)
	return e, err
}
