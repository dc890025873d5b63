package snapshot

import "strings"

// Key identifies a cached resource, e.g. {"orders", "pending"}.
type Key []string

// K builds a Key from its segments.
func K(parts ...string) Key { return Key(parts) }

// String renders the key for logs.
func (k Key) String() string { return "[" + strings.Join(k, " ") + "]" }

// Resource is the first segment, used as a low-cardinality metric label.
func (k Key) Resource() string {
	if len(k) == 0 {
		return ""
	}
	return k[0]
}

// HasPrefix reports whether p is an element-wise prefix of k. The empty key
// prefixes every key.
func (k Key) HasPrefix(p Key) bool {
	if len(p) > len(k) {
		return false
	}
	for i := range p {
		if k[i] != p[i] {
			return false
		}
	}
	return true
}

// Equal reports whether both keys have the same segments.
func (k Key) Equal(o Key) bool {
	return len(k) == len(o) && k.HasPrefix(o)
}

// Append returns a new key extended with parts; k is left untouched.
func (k Key) Append(parts ...string) Key {
	out := make(Key, 0, len(k)+len(parts))
	out = append(out, k...)
	return append(out, parts...)
}

// id is the map identity of the key. The unit separator cannot appear in ids
// coming from the backend.
func (k Key) id() string { return strings.Join(k, "\x1f") }
