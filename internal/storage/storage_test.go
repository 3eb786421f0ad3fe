package storage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestLayoutJobDirLifecycle(t *testing.T) {
	root := t.TempDir()
	l, err := NewLayout(root)
	if err != nil {
		t.Fatalf("NewLayout() error = %v", err)
	}
	dir, err := l.JobDir("abc")
	if err != nil {
		t.Fatalf("JobDir() error = %v", err)
	}
	if dir != filepath.Join(root, "abc") || !l.Contains(filepath.Join(dir, "video.mp4")) {
		t.Fatalf("JobDir() = %s", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, "x"), []byte("1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := l.RemoveJob("abc"); err != nil {
		t.Fatalf("RemoveJob() error = %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("job dir still present: %v", err)
	}
}

func TestLayoutRejectsTraversal(t *testing.T) {
	l, _ := NewLayout(t.TempDir())
	for _, id := range []string{"", "../etc", "a/b", ".."} {
		if _, err := l.JobDir(id); err == nil {
			t.Fatalf("JobDir(%q) should fail", id)
		}
	}
	if l.Contains("/etc/passwd") {
		t.Fatal("Contains() accepted a path outside the root")
	}
}

func TestSaveUploadEnforcesLimit(t *testing.T) {
	l, _ := NewLayout(t.TempDir())
	path, err := l.SaveUpload(strings.NewReader("RIFFdata"), "Take.WAV", 64)
	if err != nil {
		t.Fatalf("SaveUpload() error = %v", err)
	}
	if filepath.Ext(path) != ".wav" {
		t.Fatalf("SaveUpload() path = %s", path)
	}

	_, err = l.SaveUpload(strings.NewReader(strings.Repeat("x", 100)), "big.wav", 10)
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("SaveUpload() error = %v, want ErrTooLarge", err)
	}
	entries, _ := os.ReadDir(filepath.Join(l.Root(), "uploads"))
	if len(entries) != 1 {
		t.Fatalf("oversized upload left behind: %d files", len(entries))
	}
}

func TestS3PublisherPutsObject(t *testing.T) {
	var (
		mu     sync.Mutex
		method string
		path   string
		body   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		method, path, body = r.Method, r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	pub, err := NewS3Publisher(context.Background(), S3Options{
		Bucket:    "videos-bucket",
		Region:    "us-east-1",
		Endpoint:  srv.URL,
		PathStyle: true,
	})
	if err != nil {
		t.Fatalf("NewS3Publisher() error = %v", err)
	}

	local := filepath.Join(t.TempDir(), "video_job1.mp4")
	if err := os.WriteFile(local, []byte("fake-mp4-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	url, err := pub.Publish(context.Background(), "job1", local, ContentType(local))
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if url != "s3://videos-bucket/videos/job1/video_job1.mp4" {
		t.Fatalf("Publish() url = %s", url)
	}

	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPut || path != "/videos-bucket/videos/job1/video_job1.mp4" {
		t.Fatalf("request = %s %s", method, path)
	}
	if !strings.Contains(body, "fake-mp4-bytes") {
		t.Fatalf("uploaded body = %q", body)
	}
}
