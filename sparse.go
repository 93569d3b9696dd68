package transfer

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

// SparseData is an ordered collection of disjoint, non-adjacent DenseData
// fragments of a single asset. Overlapping or touching fragments coalesce
// on insertion, with the inserted fragment's bytes winning where both cover
// the same offset.
//
// SparseData is not safe for concurrent use; cache layers guard their
// instances with the owning map's lock and hand out snapshots to callbacks.
type SparseData struct {
	fragments []*DenseData
}

// NewSparseData returns an empty sparse set.
func NewSparseData() *SparseData {
	return &SparseData{}
}

// SparseFromDense returns a sparse set holding a single fragment.
func SparseFromDense(d *DenseData) *SparseData {
	sd := NewSparseData()
	sd.Insert(d)
	return sd
}

// Insert adds a fragment, coalescing it with any existing fragments it
// overlaps or touches. Inserting identical data twice leaves the set
// unchanged.
func (s *SparseData) Insert(d *DenseData) {
	if d == nil || (d.Len() == 0 && !d.CoversEOF()) {
		return
	}

	// First fragment whose coverage could overlap or touch d.
	lo, _ := slices.BinarySearchFunc(s.fragments, d.Start(), func(f *DenseData, start int64) int {
		switch {
		case f.End() < start:
			return -1
		case f.Start() > start:
			return 1
		default:
			return 0
		}
	})

	// Collect every fragment that overlaps or touches d. Fragments are
	// sorted, so they form a contiguous run starting at lo.
	hi := lo
	for hi < len(s.fragments) {
		f := s.fragments[hi]
		fr, dr := f.Range(), d.Range()
		if !fr.Intersects(dr) && !fr.Touches(dr) {
			break
		}
		hi++
	}

	if lo == hi {
		s.fragments = slices.Insert(s.fragments, lo, d)
		return
	}

	merged := coalesce(s.fragments[lo:hi], d)
	s.fragments = slices.Replace(s.fragments, lo, hi, merged)
}

// coalesce merges the overlapped run of existing fragments with d into one
// fragment. Where both cover an offset, d's bytes win.
func coalesce(existing []*DenseData, d *DenseData) *DenseData {
	start := min(existing[0].Start(), d.Start())
	end := d.End()
	eof := d.CoversEOF()
	for _, f := range existing {
		end = max(end, f.End())
		eof = eof || f.CoversEOF()
	}

	buf := make([]byte, end-start)
	for _, f := range existing {
		copy(buf[f.Start()-start:], f.Bytes())
	}
	copy(buf[d.Start()-start:], d.Bytes())

	if eof {
		return NewWholeFileData(start, buf)
	}
	return NewDenseData(start, buf)
}

// Contains reports whether the covered byte-set includes every byte of r.
// Fragments are separated by holes, so coverage always comes from a single
// fragment.
func (s *SparseData) Contains(r Range) bool {
	for _, f := range s.fragments {
		if f.Range().Contains(r) {
			return true
		}
	}
	return false
}

// DataAt returns the contiguous bytes available at the absolute offset:
// a slice into the covering fragment and the number of bytes remaining in
// it. It returns (nil, 0) when the offset falls in a hole.
func (s *SparseData) DataAt(offset int64) ([]byte, int64) {
	for _, f := range s.fragments {
		if b := f.DataAt(offset); b != nil {
			return b, int64(len(b))
		}
	}
	return nil, 0
}

// ReadRange copies the bytes of r out of the sparse set. It returns
// io.ErrUnexpectedEOF if any byte of r is missing. Whole-file requests read
// through the final fragment, which must cover the end of the asset.
func (s *SparseData) ReadRange(r Range) ([]byte, error) {
	end := r.End()
	if r.IsWholeFile() {
		if len(s.fragments) == 0 || !s.fragments[len(s.fragments)-1].CoversEOF() {
			return nil, io.ErrUnexpectedEOF
		}
		end = s.fragments[len(s.fragments)-1].End()
	}
	out := make([]byte, 0, end-r.Start())
	for offset := r.Start(); offset < end; {
		b, n := s.DataAt(offset)
		if n == 0 {
			return nil, io.ErrUnexpectedEOF
		}
		if remaining := end - offset; n > remaining {
			b, n = b[:remaining], remaining
		}
		out = append(out, b...)
		offset += n
	}
	return out, nil
}

// FragmentCount returns the number of dense fragments held.
func (s *SparseData) FragmentCount() int {
	return len(s.fragments)
}

// Fragments returns the fragments in ascending start order. Callers must
// not modify the returned slice.
func (s *SparseData) Fragments() []*DenseData {
	return s.fragments
}

// Size returns the total number of cached bytes across all fragments.
func (s *SparseData) Size() int64 {
	var total int64
	for _, f := range s.fragments {
		total += f.Len()
	}
	return total
}

// Snapshot returns a copy of s that shares the immutable fragment buffers
// but is isolated from later insertions.
func (s *SparseData) Snapshot() *SparseData {
	return &SparseData{fragments: slices.Clone(s.fragments)}
}

// String renders the covered ranges for diagnostics.
func (s *SparseData) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, f := range s.fragments {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%v", f.Range())
	}
	b.WriteByte('}')
	return b.String()
}
