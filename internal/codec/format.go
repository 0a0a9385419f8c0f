package codec

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownFormat is returned for format tags the archive cannot read or write.
var ErrUnknownFormat = errors.New("unknown page format")

// Format identifies an on-disk page encoding.
type Format struct {
	// Name is the requested tag, e.g. "msgpack-high".
	Name string
	// Base is the encoding family: json, msgpack, cbor or binc.
	Base string
	// Version selects a protocol revision within the family. Zero means the family default.
	Version int
	// Ext is the file extension used for pages, without the dot.
	Ext string
}

// msgpack protocol revisions. Version 1 predates the str8 and extension types, so
// time values are written in the datetime shape.
const (
	MsgpackLegacy  = 1
	MsgpackCurrent = 2
)

// JSON is the format of schema snapshots and page indexes.
var JSON = Format{Name: "json", Base: "json", Ext: "json"}

// DefaultFormats is used when no format is configured.
var DefaultFormats = []string{"json"}

// ParseFormat parses a format tag: json, cbor, binc, msgpack, msgpack-1, msgpack-2,
// msgpack-high or msgpack-default.
func ParseFormat(tag string) (Format, error) {
	tag = strings.TrimSpace(strings.ToLower(tag))
	switch tag {
	case "json", "cbor", "binc":
		return Format{Name: tag, Base: tag, Ext: tag}, nil
	case "msgpack", "msgpack-high", "msgpack-default", "msgpack-2":
		return Format{Name: tag, Base: "msgpack", Version: MsgpackCurrent, Ext: "msgpack"}, nil
	case "msgpack-1":
		return Format{Name: tag, Base: "msgpack", Version: MsgpackLegacy, Ext: "msgpack"}, nil
	}
	return Format{}, fmt.Errorf("%w: %q", ErrUnknownFormat, tag)
}

// ParseFormats parses a list of tags, dropping duplicates by extension so two tags
// never write the same page file.
func ParseFormats(tags []string) ([]Format, error) {
	if len(tags) == 0 {
		tags = DefaultFormats
	}
	seen := make(map[string]bool, len(tags))
	out := make([]Format, 0, len(tags))
	for _, tag := range tags {
		f, err := ParseFormat(tag)
		if err != nil {
			return nil, err
		}
		if seen[f.Ext] {
			continue
		}
		seen[f.Ext] = true
		out = append(out, f)
	}
	return out, nil
}

// FormatForExt returns the reading format for a page file extension.
func FormatForExt(ext string) (Format, error) {
	return ParseFormat(strings.TrimPrefix(ext, "."))
}
