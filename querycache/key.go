package querycache

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Key identifies a cached read. It is an ordered tuple of scope segments,
// e.g. ("session", "current", userID). Keys are hierarchical: invalidating a
// prefix hits every key extending it. Two keys built from equal segments in
// equal order address the same cache entry.
type Key struct {
	segs []string
}

// NewKey canonicalizes the given segments into a Key. Strings and integers
// are used verbatim; anything else (filter maps, parameter structs) is
// canonicalized through JSON, which sorts map keys, so equal-by-value
// parameter objects yield equal keys.
func NewKey(parts ...interface{}) Key {
	segs := make([]string, len(parts))
	for i, p := range parts {
		segs[i] = canonSegment(p)
	}
	return Key{segs: segs}
}

func canonSegment(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}

// Append returns a new Key extending k with more segments.
func (k Key) Append(parts ...interface{}) Key {
	ext := NewKey(parts...)
	segs := make([]string, 0, len(k.segs)+len(ext.segs))
	segs = append(segs, k.segs...)
	segs = append(segs, ext.segs...)
	return Key{segs: segs}
}

// Len returns the number of segments.
func (k Key) Len() int { return len(k.segs) }

// HasPrefix reports whether p is a segment-wise prefix of k. Every key is a
// prefix of itself; the empty key is a prefix of everything.
func (k Key) HasPrefix(p Key) bool {
	if len(p.segs) > len(k.segs) {
		return false
	}
	for i, s := range p.segs {
		if k.segs[i] != s {
			return false
		}
	}
	return true
}

// id is the exact-match map key. Each segment is length-prefixed so segment
// content can't fake a boundary.
func (k Key) id() string {
	var b strings.Builder
	for _, s := range k.segs {
		b.WriteString(strconv.Itoa(len(s)))
		b.WriteByte(':')
		b.WriteString(s)
	}
	return b.String()
}

// String returns a readable representation for logs.
func (k Key) String() string {
	return "[" + strings.Join(k.segs, ", ") + "]"
}
