package archive

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeArchive(t *testing.T, name string, content []byte) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, content, 0644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return p
}

func TestLoadNoSelectionIsNoop(t *testing.T) {
	a, err := NewLoader().Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a != nil {
		t.Fatalf("expected nil archive, got %+v", a)
	}
}

func TestLoadLocalFile(t *testing.T) {
	content := []byte("\x1f\x8b\x08 fake tarball")
	p := writeArchive(t, "staging.tgz", content)

	a, err := NewLoader().Load(context.Background(), []string{p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name != "staging.tgz" {
		t.Errorf("expected display name staging.tgz, got %s", a.Name)
	}
	if !bytes.Equal(a.Bytes(), content) {
		t.Errorf("payload mismatch")
	}
	if a.Size() != len(content) {
		t.Errorf("expected size %d, got %d", len(content), a.Size())
	}
}

func TestLoadOnlyFirstSelection(t *testing.T) {
	first := writeArchive(t, "first.tgz", []byte("first"))
	second := writeArchive(t, "second.tgz", []byte("second"))

	a, err := NewLoader().Load(context.Background(), []string{first, second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name != "first.tgz" || string(a.Bytes()) != "first" {
		t.Errorf("expected first archive, got %s", a.Name)
	}
}

func TestLoadMissingFile(t *testing.T) {
	ref := filepath.Join(t.TempDir(), "missing.tgz")
	_, err := NewLoader().Load(context.Background(), []string{ref})

	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if le.Ref != ref {
		t.Errorf("expected ref %s, got %s", ref, le.Ref)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestLoadDirectory(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), []string{t.TempDir()})
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestLoadTooLarge(t *testing.T) {
	p := writeArchive(t, "big.tgz", bytes.Repeat([]byte("x"), 100))

	_, err := NewLoader(WithMaxSize(10)).Load(context.Background(), []string{p})
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
	if !strings.Contains(err.Error(), "exceeds 10 bytes") {
		t.Errorf("unexpected error %v", err)
	}
}

type memSource map[string]string

func (m memSource) Open(_ context.Context, ref string) (io.ReadCloser, error) {
	v, ok := m[ref]
	if !ok {
		return nil, os.ErrNotExist
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

func (m memSource) Type() string { return "s3" }

func TestLoadS3Ref(t *testing.T) {
	src := memSource{"s3://exports/prod/bots.tgz": "remote"}

	a, err := NewLoader(WithS3(src)).Load(context.Background(), []string{"s3://exports/prod/bots.tgz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Name != "bots.tgz" {
		t.Errorf("expected display name bots.tgz, got %s", a.Name)
	}
	if string(a.Bytes()) != "remote" {
		t.Errorf("unexpected payload %q", a.Bytes())
	}
}

func TestLoadS3RefWithoutSource(t *testing.T) {
	_, err := NewLoader().Load(context.Background(), []string{"s3://exports/bots.tgz"})
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected LoadError, got %v", err)
	}
}

func TestLoadS3RefBuildsSourceOnFirstUse(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte("from-minio"))
	}))
	defer ts.Close()

	l := NewLoader(WithS3Config(S3Config{
		Endpoint:  ts.URL,
		Region:    "us-east-1",
		AccessKey: "minio",
		SecretKey: "minio123",
	}))
	if l.s3 != nil {
		t.Fatal("s3 source should not be built before an s3 reference is loaded")
	}

	a, err := l.Load(context.Background(), []string{"s3://exports/prod/bots.tgz"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(a.Bytes()) != "from-minio" {
		t.Errorf("unexpected payload %q", a.Bytes())
	}
	if gotPath != "/exports/prod/bots.tgz" {
		t.Errorf("expected path-style request, got %s", gotPath)
	}
	if l.s3 == nil {
		t.Error("expected s3 source to be kept for later loads")
	}
}

func TestLoadLocalFileLeavesS3Unbuilt(t *testing.T) {
	p := writeArchive(t, "local.tgz", []byte("x"))
	l := NewLoader(WithS3Config(S3Config{Region: "us-east-1"}))

	if _, err := l.Load(context.Background(), []string{p}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.s3 != nil {
		t.Error("local load must not build the s3 source")
	}
}

func TestNewCopiesPayload(t *testing.T) {
	payload := []byte("original")
	a := New("a.tgz", payload)
	payload[0] = 'X'

	if string(a.Bytes()) != "original" {
		t.Errorf("archive changed with caller's slice: %q", a.Bytes())
	}
}

func TestParseS3Ref(t *testing.T) {
	bucket, key, err := ParseS3Ref("s3://exports/nested/dir/a.tgz")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bucket != "exports" || key != "nested/dir/a.tgz" {
		t.Errorf("got bucket=%s key=%s", bucket, key)
	}

	for _, bad := range []string{"exports/a.tgz", "s3://exports", "s3:///a.tgz"} {
		if _, _, err := ParseS3Ref(bad); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}
