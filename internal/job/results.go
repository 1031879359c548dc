package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"repodocx/internal/metrics"
)

// Retriever delivers one artifact to the user's environment.
type Retriever interface {
	Retrieve(ctx context.Context, h Handle, a ArtifactRef) error
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, h Handle, a ArtifactRef) error

func (f RetrieverFunc) Retrieve(ctx context.Context, h Handle, a ArtifactRef) error {
	return f(ctx, h, a)
}

// Results holds the artifacts of a completed job and dispatches retrievals.
// It does not track whether a retrieved file finished downloading.
type Results struct {
	handle    Handle
	artifacts []ArtifactRef
	retriever Retriever
}

func NewResults(h Handle, artifacts []ArtifactRef, r Retriever) *Results {
	return &Results{
		handle:    h,
		artifacts: append([]ArtifactRef(nil), artifacts...),
		retriever: r,
	}
}

func (r *Results) Handle() Handle { return r.handle }

// Artifacts returns the held artifacts in server order.
func (r *Results) Artifacts() []ArtifactRef {
	return append([]ArtifactRef(nil), r.artifacts...)
}

// Lookup finds an artifact by filename.
func (r *Results) Lookup(filename string) (ArtifactRef, bool) {
	for _, a := range r.artifacts {
		if a.Filename == filename {
			return a, true
		}
	}
	return ArtifactRef{}, false
}

// RetrieveOne hands a single artifact to the retriever. Filenames outside the
// result set fail with *NotFoundError and never reach the retriever.
func (r *Results) RetrieveOne(ctx context.Context, filename string) error {
	artifact, ok := r.Lookup(filename)
	if !ok {
		metrics.IncRetrieval("not_found")
		return &NotFoundError{Filename: filename}
	}
	if err := r.retriever.Retrieve(ctx, r.handle, artifact); err != nil {
		metrics.IncRetrieval("failed")
		log.Warn().Str("job_id", r.handle.JobID).Str("filename", filename).Err(err).Msg("artifact retrieval failed")
		return fmt.Errorf("retrieve %s: %w", filename, err)
	}
	metrics.IncRetrieval("ok")
	return nil
}

// RetrieveAll calls RetrieveOne for every artifact in held order. A failing
// artifact does not stop the remaining ones.
func (r *Results) RetrieveAll(ctx context.Context) error {
	var errs []error
	for _, a := range r.artifacts {
		if err := r.RetrieveOne(ctx, a.Filename); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
