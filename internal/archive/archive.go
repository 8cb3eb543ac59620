// Package archive reads exported server archives into memory.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/bundlepush/bundlepush/internal/logging"
	"github.com/bundlepush/bundlepush/internal/metrics"
)

// DefaultMaxSize caps how much of an archive is read into memory.
const DefaultMaxSize int64 = 512 << 20

// Source opens archive references of one kind.
type Source interface {
	// Open returns a reader for the referenced archive.
	Open(ctx context.Context, ref string) (io.ReadCloser, error)

	// Type returns the source type identifier ("local", "s3").
	Type() string
}

// Archive is an archive held in memory for a single push session.
type Archive struct {
	Name string // display name
	Ref  string // reference it was loaded from

	payload []byte
}

// New wraps a copy of payload, so later changes to the caller's slice do not
// reach the session.
func New(name string, payload []byte) *Archive {
	return &Archive{Name: name, Ref: name, payload: bytes.Clone(payload)}
}

// Bytes returns the payload. Callers must not modify it.
func (a *Archive) Bytes() []byte {
	return a.payload
}

// Size returns the payload length in bytes.
func (a *Archive) Size() int {
	return len(a.payload)
}

// LoadError is returned when an archive cannot be read.
type LoadError struct {
	Ref string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load archive %s: %v", e.Ref, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Loader resolves archive references against the configured sources.
type Loader struct {
	local   Source
	maxSize int64

	mu    sync.Mutex
	s3    Source
	s3Cfg *S3Config
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithS3 enables s3://bucket/key references.
func WithS3(src Source) LoaderOption {
	return func(l *Loader) { l.s3 = src }
}

// WithS3Config enables s3://bucket/key references. The S3 client is built
// from cfg when the first such reference is loaded, so plain local loads never
// touch the AWS credential chain.
func WithS3Config(cfg S3Config) LoaderOption {
	return func(l *Loader) { l.s3Cfg = &cfg }
}

// WithMaxSize overrides DefaultMaxSize.
func WithMaxSize(n int64) LoaderOption {
	return func(l *Loader) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// NewLoader creates a loader that reads local files, plus any extra sources.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		local:   LocalSource{},
		maxSize: DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load reads the first of refs into memory. With no refs it does nothing and
// returns (nil, nil); only one archive can be pushed at a time, so any
// further refs are ignored.
func (l *Loader) Load(ctx context.Context, refs []string) (*Archive, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	ref := refs[0]
	if len(refs) > 1 {
		logging.Debug("ignoring extra archive selections", logging.Int("ignored", len(refs)-1))
	}

	src, err := l.sourceFor(ctx, ref)
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}

	rc, err := src.Open(ctx, ref)
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	defer rc.Close()

	payload, err := io.ReadAll(io.LimitReader(rc, l.maxSize+1))
	if err != nil {
		return nil, &LoadError{Ref: ref, Err: err}
	}
	if int64(len(payload)) > l.maxSize {
		return nil, &LoadError{Ref: ref, Err: fmt.Errorf("archive exceeds %d bytes", l.maxSize)}
	}

	metrics.RecordArchiveLoad(src.Type(), int64(len(payload)))
	logging.Debug("archive loaded",
		logging.String("ref", ref),
		logging.String("source", src.Type()),
		logging.Int("bytes", len(payload)),
	)

	return &Archive{Name: displayName(ref), Ref: ref, payload: payload}, nil
}

func (l *Loader) sourceFor(ctx context.Context, ref string) (Source, error) {
	if !strings.HasPrefix(ref, s3Scheme) {
		return l.local, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.s3 != nil {
		return l.s3, nil
	}
	if l.s3Cfg == nil {
		return nil, fmt.Errorf("s3 source not configured")
	}
	src, err := NewS3Source(ctx, *l.s3Cfg)
	if err != nil {
		return nil, err
	}
	l.s3 = src
	return src, nil
}

func displayName(ref string) string {
	ref = strings.TrimPrefix(ref, s3Scheme)
	ref = strings.ReplaceAll(ref, "\\", "/")
	return path.Base(ref)
}
