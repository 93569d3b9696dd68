// Package oci provides a Fetcher that reads content-addressed blobs from
// an OCI registry. The asset fingerprint maps directly to the blob digest,
// so the origin needs no name translation.
package oci

import (
	"context"
	"fmt"
	"io"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote"

	"github.com/meigma/transfer"
)

// BlobSource resolves and fetches blobs by digest. It is the subset of an
// ORAS blob store the fetcher needs; *remote.Repository's blob store
// satisfies it.
type BlobSource interface {
	Resolve(ctx context.Context, reference string) (ocispec.Descriptor, error)
	Fetch(ctx context.Context, target ocispec.Descriptor) (io.ReadCloser, error)
}

// Fetcher retrieves asset bytes from an OCI registry repository.
//
// Registries serve blobs whole, so every fetch reads the complete body;
// bounded ranges are sliced locally. Callers that need true range reads
// should prefer the HTTP fetcher.
type Fetcher struct {
	blobs BlobSource
}

// NewFetcher returns a Fetcher over the given blob source.
func NewFetcher(blobs BlobSource) *Fetcher {
	return &Fetcher{blobs: blobs}
}

// NewRepositoryFetcher returns a Fetcher for a repository reference such
// as "ghcr.io/org/assets".
func NewRepositoryFetcher(reference string) (*Fetcher, error) {
	repo, err := remote.NewRepository(reference)
	if err != nil {
		return nil, fmt.Errorf("oci repository %s: %w", reference, err)
	}
	return NewFetcher(repo.Blobs()), nil
}

// Fetch retrieves the requested range of the blob whose digest is the
// URI's filename. The body is verified against the fingerprint before any
// slicing; tampered blobs fail with transfer.ErrFingerprintMismatch.
func (f *Fetcher) Fetch(ctx context.Context, uri transfer.URI, r transfer.Range) (*transfer.DenseData, error) {
	fp, err := uri.Fingerprint()
	if err != nil {
		return nil, fmt.Errorf("oci fetch %s: %w", uri, err)
	}

	desc, err := f.blobs.Resolve(ctx, fp.Digest().String())
	if err != nil {
		return nil, fmt.Errorf("oci resolve %s: %w", fp, err)
	}

	rc, err := f.blobs.Fetch(ctx, desc)
	if err != nil {
		return nil, fmt.Errorf("oci fetch %s: %w", fp, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("oci fetch %s: %w", fp, err)
	}
	if !fp.Verify(body) {
		return nil, fmt.Errorf("oci fetch %s: %w", fp, transfer.ErrFingerprintMismatch)
	}

	if r.IsWholeFile() && r.Start() == 0 {
		return transfer.NewWholeFileData(0, body), nil
	}

	start := min(r.Start(), int64(len(body)))
	end := int64(len(body))
	if !r.IsWholeFile() {
		end = min(r.End(), end)
	}
	if end >= int64(len(body)) {
		return transfer.NewWholeFileData(start, body[start:end]), nil
	}
	return transfer.NewDenseData(start, body[start:end]), nil
}
