package escrow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

var jsonNull = []byte("null")

// MarshalJSON encodes an absent value as null.
func (o Option[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return jsonNull, nil
	}
	return json.Marshal(o.value)
}

func (o *Option[T]) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), jsonNull) {
		*o = None[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*o = Some(v)
	return nil
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	v, err := ParseStatus(str)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

type assetJSON struct {
	Kind     string `json:"kind"`
	Mint     string `json:"mint,omitempty"`
	Decimals uint8  `json:"decimals"`
}

func (a Asset) MarshalJSON() ([]byte, error) {
	if t, ok := a.Token.Get(); ok {
		return json.Marshal(assetJSON{Kind: "token", Mint: t.Mint, Decimals: t.Decimals})
	}
	return json.Marshal(assetJSON{Kind: "native", Decimals: NativeDecimals})
}

func (a *Asset) UnmarshalJSON(b []byte) error {
	var v assetJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v.Kind {
	case "", "native":
		*a = NativeAsset()
	case "token":
		*a = TokenAsset(v.Mint, v.Decimals)
	default:
		return fmt.Errorf("unknown asset kind %q", v.Kind)
	}
	return nil
}
