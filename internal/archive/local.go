package archive

import (
	"context"
	"fmt"
	"io"
	"os"
)

// LocalSource reads archives from the local filesystem.
type LocalSource struct{}

// Open opens a local archive file.
func (LocalSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	f, err := os.Open(ref)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory", ref)
	}
	return f, nil
}

// Type returns "local".
func (LocalSource) Type() string {
	return "local"
}
