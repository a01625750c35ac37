package store

import (
	"net/url"
	"sort"
	"strings"
)

// Attribute is an object attribute key. The canonical constants below map to
// well-known HTTP representation headers; any other key is treated as
// user-defined metadata.
type Attribute string

const (
	AttrContentDisposition Attribute = "Content-Disposition"
	AttrContentEncoding    Attribute = "Content-Encoding"
	AttrContentLanguage    Attribute = "Content-Language"
	AttrContentType        Attribute = "Content-Type"
	AttrCacheControl       Attribute = "Cache-Control"
)

// CanonicalAttribute normalizes loosely spelled attribute names ("content_type",
// "ContentType", "content-type") onto the canonical constants; anything else
// is returned lowercased as a metadata key.
func CanonicalAttribute(name string) Attribute {
	squashed := strings.ToLower(strings.NewReplacer("-", "", "_", "").Replace(name))
	switch squashed {
	case "contentdisposition":
		return AttrContentDisposition
	case "contentencoding":
		return AttrContentEncoding
	case "contentlanguage":
		return AttrContentLanguage
	case "contenttype":
		return AttrContentType
	case "cachecontrol":
		return AttrCacheControl
	default:
		return Attribute(strings.ToLower(name))
	}
}

// IsCanonical reports whether a is one of the well-known attribute keys.
func (a Attribute) IsCanonical() bool {
	switch a {
	case AttrContentDisposition, AttrContentEncoding, AttrContentLanguage,
		AttrContentType, AttrCacheControl:
		return true
	}
	return false
}

// Attributes is the attribute set stored alongside an object. The zero value
// is usable.
type Attributes map[Attribute]string

// ContentType returns the Content-Type attribute, if set.
func (a Attributes) ContentType() string { return a[AttrContentType] }

// Set stores a value, dropping empty ones so sparse backend responses do
// not produce empty entries.
func (a Attributes) Set(k Attribute, v string) {
	if v == "" {
		return
	}
	a[k] = v
}

// Metadata returns only the user-defined (non-canonical) entries.
func (a Attributes) Metadata() map[string]string {
	out := make(map[string]string)
	for k, v := range a {
		if !k.IsCanonical() {
			out[string(k)] = v
		}
	}
	return out
}

// Clone returns a shallow copy, nil in for nil out.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// TagSet is a set of object tags carried opaquely to backends that support
// tagging. The zero value is an empty set.
type TagSet struct {
	pairs []string
}

// Add appends one key/value tag. Keys and values are URL-escaped in the
// encoded form.
func (t *TagSet) Add(key, value string) {
	t.pairs = append(t.pairs, url.QueryEscape(key)+"="+url.QueryEscape(value))
}

// Empty reports whether the set holds no tags.
func (t TagSet) Empty() bool { return len(t.pairs) == 0 }

// Encoded renders the set in query-string form ("k1=v1&k2=v2"), sorted by
// key for a stable wire representation.
func (t TagSet) Encoded() string {
	pairs := append([]string(nil), t.pairs...)
	sort.Strings(pairs)
	return strings.Join(pairs, "&")
}
