// Package keys builds the storage keys used in the KV store.
//
// Keys are colon-separated segments. Each segment is escaped so that a colon
// inside an owner or ID can never be mistaken for a separator, which keeps
// Build injective over (namespace, owner, id):
//
//	state:a1b2c3d4                  unowned record
//	user_state:alice:a1b2c3d4       record owned by alice
//	session:x9Yz:user:u1            ad-hoc composite key
package keys

import "strings"

// Sep separates key segments.
const Sep = ":"

// ownedPrefix is prepended to the namespace of owner-partitioned keys.
const ownedPrefix = "user_"

var (
	escaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	unescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

// Escape makes s safe to use as a single key segment.
func Escape(s string) string { return escaper.Replace(s) }

// Unescape reverses Escape.
func Unescape(s string) string { return unescaper.Replace(s) }

// Join escapes each part and joins them with Sep.
func Join(parts ...string) string {
	esc := make([]string, len(parts))
	for i, p := range parts {
		esc[i] = Escape(p)
	}
	return strings.Join(esc, Sep)
}

// JoinPrefix is Join with a trailing separator, for listing every key nested
// under parts.
func JoinPrefix(parts ...string) string {
	return Join(parts...) + Sep
}

// Split splits a key into its unescaped segments.
func Split(key string) []string {
	parts := strings.Split(key, Sep)
	for i, p := range parts {
		parts[i] = Unescape(p)
	}
	return parts
}

// Build returns the key for record id in namespace. An empty ownerID means
// the record has no owner.
func Build(namespace, ownerID, id string) string {
	if ownerID == "" {
		return Join(namespace, id)
	}
	return Join(ownedPrefix+namespace, ownerID, id)
}

// Prefix returns the prefix shared by every key Build produces for the given
// namespace and owner.
func Prefix(namespace, ownerID string) string {
	if ownerID == "" {
		return JoinPrefix(namespace)
	}
	return JoinPrefix(ownedPrefix+namespace, ownerID)
}

// Parse extracts the record ID from a key produced by Build. It reports false
// for keys that merely share the prefix, such as deeper composite keys.
func Parse(namespace, ownerID, key string) (string, bool) {
	rest, ok := strings.CutPrefix(key, Prefix(namespace, ownerID))
	if !ok || rest == "" || strings.Contains(rest, Sep) {
		return "", false
	}
	return Unescape(rest), true
}
