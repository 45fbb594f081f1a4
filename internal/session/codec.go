package session

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("session: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("session: CBOR decoder initialization failed: " + err.Error())
	}
}

// stateWire carries State's fields without its marshaling methods, which
// the CBOR codec would otherwise call recursively.
type stateWire State

// MarshalBinary encodes the state as an opaque blob.
func (s State) MarshalBinary() ([]byte, error) {
	return encMode.Marshal(stateWire(s))
}

// UnmarshalBinary decodes a blob produced by MarshalBinary. Fields missing
// from the blob keep their default values.
func (s *State) UnmarshalBinary(data []byte) error {
	decoded := DefaultState()
	if err := decMode.Unmarshal(data, (*stateWire)(&decoded)); err != nil {
		return fmt.Errorf("decode session state: %w", err)
	}
	*s = decoded
	return nil
}

type historyWire struct {
	Entries []string `cbor:"1,keyasint"`
}

// MarshalHistory encodes sent-text history, oldest first.
func MarshalHistory(entries []string) ([]byte, error) {
	return encMode.Marshal(historyWire{Entries: entries})
}

// UnmarshalHistory decodes a blob produced by MarshalHistory.
func UnmarshalHistory(data []byte) ([]string, error) {
	var wire historyWire
	if err := decMode.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode session history: %w", err)
	}
	return wire.Entries, nil
}
