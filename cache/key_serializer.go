package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// KeySeparator defines the delimiter used between cache key segments.
const KeySeparator = "::"

// KeySerializer builds read cache keys. Keys sharing a namespace and leading
// parts share the prefix returned by Prefix, so they can be dropped together
// with DeleteByPrefix.
type KeySerializer interface {
	SerializeKey(namespace string, parts ...any) string
	Prefix(namespace string, parts ...any) string
}

type defaultKeySerializer struct{}

// NewDefaultKeySerializer returns the serializer used for entity keys,
// e.g. "entity::Transfer::0xabc".
func NewDefaultKeySerializer() KeySerializer {
	return defaultKeySerializer{}
}

func (defaultKeySerializer) SerializeKey(namespace string, parts ...any) string {
	if len(parts) == 0 {
		return namespace
	}
	segs := make([]string, 0, len(parts)+1)
	segs = append(segs, namespace)
	for _, p := range parts {
		segs = append(segs, segment(p))
	}
	return strings.Join(segs, KeySeparator)
}

func (s defaultKeySerializer) Prefix(namespace string, parts ...any) string {
	return s.SerializeKey(namespace, parts...) + KeySeparator
}

func segment(v any) string {
	switch x := v.(type) {
	case nil:
		return "nil"
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case fmt.Stringer:
		return x.String()
	case []string:
		return "[" + strings.Join(x, ",") + "]"
	}
	return fmt.Sprintf("%v", v)
}
