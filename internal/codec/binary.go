package codec

import (
	"fmt"
	"reflect"

	ugcodec "github.com/ugorji/go/codec"

	"github.com/ajitpratap0/sg-archive/internal/models"
)

var mapType = reflect.TypeOf(map[string]interface{}(nil))

// Handles are configured once; ugorji handles are safe for concurrent use afterwards.
var (
	msgpackHandle = func() *ugcodec.MsgpackHandle {
		h := &ugcodec.MsgpackHandle{}
		h.WriteExt = true
		configure(&h.BasicHandle)
		return h
	}()
	msgpackLegacyHandle = func() *ugcodec.MsgpackHandle {
		h := &ugcodec.MsgpackHandle{}
		configure(&h.BasicHandle)
		return h
	}()
	cborHandle = func() *ugcodec.CborHandle {
		h := &ugcodec.CborHandle{}
		h.TimeRFC3339 = true
		configure(&h.BasicHandle)
		return h
	}()
	bincHandle = func() *ugcodec.BincHandle {
		h := &ugcodec.BincHandle{}
		configure(&h.BasicHandle)
		return h
	}()
)

// configure sets the options shared by every binary page format: sorted map keys so
// reruns are byte identical, and decoding into plain maps with signed integers.
func configure(h *ugcodec.BasicHandle) {
	h.Canonical = true
	h.MapType = mapType
	h.SignedInteger = true
	h.RawToString = true
}

func handleFor(f Format) (ugcodec.Handle, error) {
	switch f.Base {
	case "msgpack":
		if f.Version == MsgpackLegacy {
			return msgpackLegacyHandle, nil
		}
		return msgpackHandle, nil
	case "cbor":
		return cborHandle, nil
	case "binc":
		return bincHandle, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f.Name)
}

func encodeBinary(f Format, v models.Value) ([]byte, error) {
	h, err := handleFor(f)
	if err != nil {
		return nil, err
	}
	if f.Base == "msgpack" && f.Version == MsgpackLegacy {
		v = shapeTimes(v)
	}
	var out []byte
	if err := ugcodec.NewEncoderBytes(&out, h).Encode(v.ToAny()); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", f.Name, err)
	}
	return out, nil
}

func decodeBinary(f Format, data []byte) (models.Value, error) {
	h, err := handleFor(f)
	if err != nil {
		return models.Null(), err
	}
	var raw interface{}
	if err := ugcodec.NewDecoderBytes(data, h).Decode(&raw); err != nil {
		return models.Null(), fmt.Errorf("decoding %s: %w", f.Name, err)
	}
	v, err := models.FromAny(raw)
	if err != nil {
		return models.Null(), fmt.Errorf("decoding %s: %w", f.Name, err)
	}
	// msgpack pages may come from either protocol revision.
	return restoreTimes(v), nil
}
