package disk

import (
	"encoding/binary"

	"github.com/meigma/transfer"
)

// Cache files hold the asset's SparseData as a flat sequence of fragment
// records:
//
//	offset  u64 big-endian
//	length  u64 big-endian
//	bytes   [length]byte
//
// Records are written in ascending offset order, already coalesced.
// Readers ignore a trailing truncated record, which is how interrupted
// writes recover.

const fragmentHeaderSize = 16

// fragMeta locates one fragment record inside a cache file.
type fragMeta struct {
	start   int64 // asset offset of the first byte
	length  int64 // fragment byte count
	fileOff int64 // file offset of the fragment bytes
	eof     bool  // fragment is known to reach the end of the asset
}

func (m fragMeta) rng() transfer.Range {
	if m.eof {
		return transfer.WholeFileFrom(m.start)
	}
	return transfer.Length(m.start, m.length)
}

// encodeFragments serializes a sparse set to the on-disk format, returning
// the bytes and the matching metadata.
func encodeFragments(sd *transfer.SparseData) ([]byte, []fragMeta) {
	size := int64(0)
	for _, f := range sd.Fragments() {
		size += fragmentHeaderSize + f.Len()
	}

	buf := make([]byte, 0, size)
	metas := make([]fragMeta, 0, sd.FragmentCount())
	for _, f := range sd.Fragments() {
		buf = binary.BigEndian.AppendUint64(buf, uint64(f.Start()))
		buf = binary.BigEndian.AppendUint64(buf, uint64(f.Len()))
		metas = append(metas, fragMeta{
			start:   f.Start(),
			length:  f.Len(),
			fileOff: int64(len(buf)),
			eof:     f.CoversEOF(),
		})
		buf = append(buf, f.Bytes()...)
	}
	return buf, metas
}

// scanFragments walks the record headers of a cache file without loading
// bodies. Trailing truncated records are dropped.
func scanFragments(store BlobStore, name string) ([]fragMeta, error) {
	fileSize, err := store.Size(name)
	if err != nil {
		return nil, err
	}

	var metas []fragMeta
	pos := int64(0)
	for pos+fragmentHeaderSize <= fileSize {
		hdr, err := store.Read(name, pos, fragmentHeaderSize)
		if err != nil {
			return nil, err
		}
		if len(hdr) < fragmentHeaderSize {
			break
		}
		start := int64(binary.BigEndian.Uint64(hdr[0:8]))
		length := int64(binary.BigEndian.Uint64(hdr[8:16]))
		if start < 0 || length < 0 || pos+fragmentHeaderSize+length > fileSize {
			// Truncated or corrupt tail; keep what decoded cleanly.
			break
		}
		metas = append(metas, fragMeta{
			start:   start,
			length:  length,
			fileOff: pos + fragmentHeaderSize,
		})
		pos += fragmentHeaderSize + length
	}
	return metas, nil
}

// loadSparse reads every fragment body and reassembles the SparseData.
func loadSparse(store BlobStore, name string, metas []fragMeta) (*transfer.SparseData, error) {
	sd := transfer.NewSparseData()
	for _, m := range metas {
		body, err := store.Read(name, m.fileOff, m.length)
		if err != nil {
			return nil, err
		}
		if int64(len(body)) < m.length {
			continue
		}
		if m.eof {
			sd.Insert(transfer.NewWholeFileData(m.start, body))
		} else {
			sd.Insert(transfer.NewDenseData(m.start, body))
		}
	}
	return sd, nil
}
