package store

import "fmt"

// Range is a canonical half-open byte range [Start, End).
type Range struct {
	Start uint64
	End   uint64
}

// Len returns the number of bytes covered by the range.
func (r Range) Len() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

type rangeForm uint8

const (
	formBounded rangeForm = iota
	formOffset
	formSuffix
)

// RangeSpec describes a requested byte range in exactly one of three forms:
// an explicit bounded [start, end), an offset ("from byte N to the end") or a
// suffix ("the last N bytes"). Offset and suffix forms resolve only against a
// known object length.
type RangeSpec struct {
	form  rangeForm
	start uint64
	end   uint64
	n     uint64
}

// BoundedRange builds an explicit [start, end) spec.
func BoundedRange(start, end uint64) RangeSpec {
	return RangeSpec{form: formBounded, start: start, end: end}
}

// OffsetRange builds a spec covering every byte from offset to the end.
func OffsetRange(offset uint64) RangeSpec {
	return RangeSpec{form: formOffset, start: offset}
}

// SuffixRange builds a spec covering the last n bytes.
func SuffixRange(n uint64) RangeSpec {
	return RangeSpec{form: formSuffix, n: n}
}

// NewRange builds a bounded spec from start plus exactly one of end or
// length. Supplying both or neither is an input error.
func NewRange(start uint64, end, length *uint64) (RangeSpec, error) {
	switch {
	case end != nil && length != nil:
		return RangeSpec{}, fmt.Errorf("range: end and length cannot both be set")
	case end == nil && length == nil:
		return RangeSpec{}, fmt.Errorf("range: either end or length must be set")
	case end != nil:
		return BoundedRange(start, *end), nil
	default:
		return BoundedRange(start, start+*length), nil
	}
}

// RangesFrom builds bounded specs pairwise from starts and exactly one of
// ends or lengths, preserving order. It fails fast on the first malformed
// pairing and on mismatched slice lengths.
func RangesFrom(starts, ends, lengths []uint64) ([]RangeSpec, error) {
	switch {
	case ends != nil && lengths != nil:
		return nil, fmt.Errorf("range: ends and lengths cannot both be set")
	case ends == nil && lengths == nil:
		return nil, fmt.Errorf("range: either ends or lengths must be set")
	case ends != nil && len(ends) != len(starts):
		return nil, fmt.Errorf("range: got %d starts but %d ends", len(starts), len(ends))
	case lengths != nil && len(lengths) != len(starts):
		return nil, fmt.Errorf("range: got %d starts but %d lengths", len(starts), len(lengths))
	}
	specs := make([]RangeSpec, len(starts))
	for i, s := range starts {
		if ends != nil {
			specs[i] = BoundedRange(s, ends[i])
		} else {
			specs[i] = BoundedRange(s, s+lengths[i])
		}
	}
	return specs, nil
}

// Resolve translates the spec into a canonical half-open range against the
// object length. Out-of-bounds inputs are clamped: an offset past the end
// resolves empty, a suffix longer than the object covers the whole object,
// and bounded ends are clamped to the length.
func (s RangeSpec) Resolve(objectLength uint64) Range {
	switch s.form {
	case formOffset:
		start := min(s.start, objectLength)
		return Range{Start: start, End: objectLength}
	case formSuffix:
		if s.n >= objectLength {
			return Range{Start: 0, End: objectLength}
		}
		return Range{Start: objectLength - s.n, End: objectLength}
	default:
		end := min(s.end, objectLength)
		return Range{Start: min(s.start, end), End: end}
	}
}

// ResolveAll resolves each spec independently, preserving order.
func ResolveAll(specs []RangeSpec, objectLength uint64) []Range {
	out := make([]Range, len(specs))
	for i, s := range specs {
		out[i] = s.Resolve(objectLength)
	}
	return out
}

// HTTPHeader renders the spec as an HTTP Range header value. All three forms
// have a direct wire representation, so backends speaking HTTP need no
// up-front object length.
func (s RangeSpec) HTTPHeader() string {
	switch s.form {
	case formOffset:
		return fmt.Sprintf("bytes=%d-", s.start)
	case formSuffix:
		return fmt.Sprintf("bytes=-%d", s.n)
	default:
		// A zero-length bounded spec has no wire form; degrade to the single
		// byte at start rather than emit a descending range.
		if s.end <= s.start {
			return fmt.Sprintf("bytes=%d-%d", s.start, s.start)
		}
		return fmt.Sprintf("bytes=%d-%d", s.start, s.end-1)
	}
}
