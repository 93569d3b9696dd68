package transfer

// DenseData is an immutable contiguous run of bytes tagged with its
// starting offset within an asset. The buffer must not be modified after
// the DenseData is constructed.
type DenseData struct {
	start int64
	data  []byte
	eof   bool
}

// NewDenseData returns a fragment holding data at the given offset.
// The fragment takes ownership of the slice.
func NewDenseData(start int64, data []byte) *DenseData {
	return &DenseData{start: start, data: data}
}

// NewWholeFileData returns a fragment that is known to extend through the
// end of the asset, such as the body of a whole-file fetch.
func NewWholeFileData(start int64, data []byte) *DenseData {
	return &DenseData{start: start, data: data, eof: true}
}

// Start returns the offset of the first byte.
func (d *DenseData) Start() int64 {
	return d.start
}

// Len returns the number of bytes held.
func (d *DenseData) Len() int64 {
	return int64(len(d.data))
}

// End returns the offset one past the last byte held.
func (d *DenseData) End() int64 {
	return d.start + int64(len(d.data))
}

// CoversEOF reports whether the fragment extends through the end of the
// asset.
func (d *DenseData) CoversEOF() bool {
	return d.eof
}

// Bytes returns the underlying buffer. Callers must not modify it.
func (d *DenseData) Bytes() []byte {
	return d.data
}

// Range returns the byte range covered by d. Fragments that reach the end
// of the asset cover the whole-file tail from their start.
func (d *DenseData) Range() Range {
	if d.eof {
		return WholeFileFrom(d.start)
	}
	return Length(d.start, int64(len(d.data)))
}

// DataAt returns the bytes of d from the absolute offset to the end of the
// fragment, or nil when the offset falls outside it.
func (d *DenseData) DataAt(offset int64) []byte {
	if offset < d.start || offset >= d.End() {
		return nil
	}
	return d.data[offset-d.start:]
}
