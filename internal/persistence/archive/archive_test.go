package archive

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestClientPutsSignedObject(t *testing.T) {
	var (
		gotPath, gotAuth, gotHash, gotBody string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotHash = r.Header.Get("x-amz-content-sha256")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		rw.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c, err := NewClient(Config{Endpoint: srv.URL, Bucket: "claims", AccessKeyID: "AK", SecretAccessKey: "SK", Prefix: "/prod/"})
	require.NoError(t, err)
	c.now = func() time.Time { return time.Date(2026, 4, 2, 3, 4, 5, 0, time.UTC) }

	file := filepath.Join(t.TempDir(), "claims-2026-04-02-03.jsonl.zst")
	require.NoError(t, os.WriteFile(file, []byte("payload"), 0o644))

	key := c.Key("audit/claims-2026-04-02-03.jsonl.zst")
	require.Equal(t, "prod/audit/claims-2026-04-02-03.jsonl.zst", key)
	require.NoError(t, c.PutFile(context.Background(), key, file))

	require.Equal(t, "/claims/prod/audit/claims-2026-04-02-03.jsonl.zst", gotPath)
	require.Equal(t, "payload", gotBody)
	require.Len(t, gotHash, 64)
	require.True(t, strings.HasPrefix(gotAuth, "AWS4-HMAC-SHA256 Credential=AK/20260402/auto/s3/aws4_request, SignedHeaders=host;x-amz-content-sha256;x-amz-date, Signature="), gotAuth)
}

func TestClientReportsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "AccessDenied", http.StatusForbidden)
	}))
	defer srv.Close()
	c, err := NewClient(Config{Endpoint: srv.URL, Bucket: "b", AccessKeyID: "a", SecretAccessKey: "s"})
	require.NoError(t, err)
	file := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	err = c.PutFile(context.Background(), "x", file)
	require.ErrorContains(t, err, "AccessDenied")

	_, err = NewClient(Config{Endpoint: "r2.example.com"})
	require.Error(t, err)
	require.Equal(t, "", c.Key("../"))
}

type fakeUploader struct {
	mu    sync.Mutex
	keys  []string
	fails int
}

func (f *fakeUploader) Key(rel string) string { return "p/" + rel }

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return errors.New("flaky")
	}
	f.keys = append(f.keys, key)
	return nil
}

func TestMirrorRetriesAndCounts(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{fails: 1}
	m := newMirror(up, dir, MirrorOptions{Log: quiet()})
	m.backoff = time.Millisecond

	m.Enqueue(filepath.Join(dir, "audit", "claims-2026-04-02-03.jsonl.zst"))
	m.Enqueue(filepath.Join(filepath.Dir(dir), "elsewhere.zst"))
	m.Close()

	st := m.Stats()
	require.Equal(t, uint64(2), st.Enqueued)
	require.Equal(t, uint64(1), st.Uploaded)
	require.Equal(t, uint64(1), st.Failed)
	require.False(t, st.LastSuccess.IsZero())
	require.Equal(t, []string{"p/audit/claims-2026-04-02-03.jsonl.zst"}, up.keys)
}

func TestNilMirrorIsInert(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	require.Equal(t, Stats{}, m.Stats())
}
