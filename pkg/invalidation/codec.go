package invalidation

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses core deterministic encoding so identical messages always
// produce identical bytes, which keeps stored failure records comparable.
var encMode cbor.EncMode

// decMode ignores unknown fields for forward compatibility.
var decMode cbor.DecMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano

	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("invalidation: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("invalidation: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalidation: encoding payload: %w", err)
	}
	return data, nil
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("invalidation: decoding payload: %w", err)
	}
	return nil
}
