package domain

import (
	"time"

	"github.com/mitchellh/mapstructure"
)

// decode maps a loosely typed document into a struct. Timestamps may arrive
// as time.Time (in-process store) or RFC 3339 strings (JSON wire, database).
func decode(data map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(data)
}
