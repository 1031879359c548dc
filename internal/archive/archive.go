package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	fileutil "repodocx/internal/file"
	"repodocx/internal/job"
)

// Source streams the payload of one artifact from the remote service.
type Source interface {
	Download(ctx context.Context, h job.Handle, filename string) (io.ReadCloser, error)
}

// ResultSource hands out the result set of a completed job.
type ResultSource interface {
	Results(r job.Retriever) (*job.Results, error)
}

// Result describes the outcome of retrieving a single artifact.
type Result struct {
	Filename string `json:"filename"`
	Folder   string `json:"folder"`
	Path     string `json:"path,omitempty"`
	Bytes    int64  `json:"bytes"`
	Err      string `json:"error,omitempty"`
}

type recorder struct {
	mu      sync.Mutex
	results []Result
}

func (r *recorder) record(res Result) {
	r.mu.Lock()
	r.results = append(r.results, res)
	r.mu.Unlock()
}

// Results returns one entry per retrieval attempt in call order.
func (r *recorder) Results() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

// DirRetriever saves every artifact as a file in Dir.
type DirRetriever struct {
	recorder
	src Source
	dir string
}

func NewDirRetriever(src Source, dir string) *DirRetriever {
	return &DirRetriever{src: src, dir: dir}
}

func (d *DirRetriever) Retrieve(ctx context.Context, h job.Handle, a job.ArtifactRef) error {
	dest := filepath.Join(d.dir, fileutil.SanitizeFilename(a.Filename))
	res := Result{Filename: a.Filename, Folder: a.Folder, Path: dest}

	body, err := d.src.Download(ctx, h, a.Filename)
	if err != nil {
		res.Err = err.Error()
		d.record(res)
		return err
	}
	defer body.Close()

	counter := &countingReader{r: body}
	if err := fileutil.CopyAtomic(dest, counter); err != nil {
		res.Err = err.Error()
		d.record(res)
		return err
	}
	res.Bytes = counter.n
	d.record(res)
	log.Info().Str("job_id", h.JobID).Str("path", dest).Int64("bytes", counter.n).Msg("artifact saved")
	return nil
}

// Bundle writes every retrieved artifact as an entry of a zip archive.
// Close must be called once all retrievals are done.
type Bundle struct {
	recorder
	src Source
	mu  sync.Mutex
	zw  *zip.Writer
}

func NewBundle(src Source, w io.Writer) *Bundle {
	return &Bundle{src: src, zw: zip.NewWriter(w)}
}

func (b *Bundle) Retrieve(ctx context.Context, h job.Handle, a job.ArtifactRef) error {
	name := entryName(a)
	res := Result{Filename: a.Filename, Folder: a.Folder, Path: name}

	body, err := b.src.Download(ctx, h, a.Filename)
	if err != nil {
		res.Err = err.Error()
		b.record(res)
		log.Warn().Str("job_id", h.JobID).Str("filename", a.Filename).Err(err).Msg("artifact download failed")
		return err
	}
	defer body.Close()

	b.mu.Lock()
	defer b.mu.Unlock()
	entry, err := b.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: time.Now()})
	if err != nil {
		res.Err = err.Error()
		b.record(res)
		return fmt.Errorf("zip entry create: %w", err)
	}
	n, err := io.Copy(entry, body)
	res.Bytes = n
	if err != nil {
		res.Err = err.Error()
		b.record(res)
		return fmt.Errorf("copy into zip: %w", err)
	}
	b.record(res)
	return nil
}

// Close finishes the archive. It does not close the underlying writer.
func (b *Bundle) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.zw.Close(); err != nil {
		return fmt.Errorf("close zip writer: %w", err)
	}
	return nil
}

// WriteArchive retrieves every artifact of the completed job into a zip
// written to w. Nothing is written when the job has not completed.
func WriteArchive(ctx context.Context, w io.Writer, src Source, rs ResultSource) ([]Result, error) {
	bundle := NewBundle(src, w)
	results, err := rs.Results(bundle)
	if err != nil {
		return nil, err
	}
	retrieveErr := results.RetrieveAll(ctx)
	if err := bundle.Close(); err != nil {
		return bundle.Results(), err
	}
	return bundle.Results(), retrieveErr
}

// BuildArchive is WriteArchive into destZipPath, replacing it atomically.
// Artifacts that fail are omitted from the archive and reported in the results.
func BuildArchive(ctx context.Context, destZipPath string, src Source, rs ResultSource) ([]Result, error) {
	pr, pw := io.Pipe()
	bundle := NewBundle(src, pw)
	results, err := rs.Results(bundle)
	if err != nil {
		return nil, err
	}

	var retrieveErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		retrieveErr = results.RetrieveAll(ctx)
		_ = pw.CloseWithError(bundle.Close())
	}()

	if err := fileutil.CopyAtomic(destZipPath, pr); err != nil {
		_ = pr.CloseWithError(err)
		<-done
		log.Error().Err(err).Str("path", destZipPath).Msg("writing archive failed")
		return bundle.Results(), fmt.Errorf("write archive: %w", err)
	}
	<-done
	return bundle.Results(), retrieveErr
}

// entryName places the artifact under its server folder inside the archive.
func entryName(a job.ArtifactRef) string {
	name := fileutil.SanitizeFilename(a.Filename)
	var parts []string
	for _, seg := range strings.Split(strings.ReplaceAll(a.Folder, "\\", "/"), "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		parts = append(parts, fileutil.SanitizeFilename(seg))
	}
	return path.Join(append(parts, name)...)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
