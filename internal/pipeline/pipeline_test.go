package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/imaged/imaged-go/internal/cache"
	"github.com/imaged/imaged-go/internal/fingerprint"
	"github.com/imaged/imaged-go/internal/imgref"
)

type stubFetcher struct {
	calls int
	buf   []byte
	err   error
}

func (s *stubFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	s.calls++
	return s.buf, s.err
}

func panicFetcher(t *testing.T) Fetcher {
	return &stubFetcherFunc{fn: func(ctx context.Context, url string) ([]byte, error) {
		t.Fatal("fetcher should not be called on a cache hit")
		return nil, nil
	}}
}

type stubFetcherFunc struct {
	fn func(ctx context.Context, url string) ([]byte, error)
}

func (s *stubFetcherFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return s.fn(ctx, url)
}

func TestGetImageMemCacheHitSkipsFetcher(t *testing.T) {
	mem, err := cache.NewMemCache(1 << 20)
	if err != nil {
		t.Fatalf("NewMemCache: %v", err)
	}
	fp := fingerprint.New("https://example.com/a.jpg", 100, 0, fingerprint.FormatJPEG, 0, 0)
	entry := cache.Entry{Buf: imgref.New([]byte("cached")), Format: fingerprint.FormatJPEG, Width: 100, Height: 50}
	mem.Set(fp, entry)

	p := New(Config{AdmissionCapacity: 4, Mem: mem, Fetcher: panicFetcher(t)})

	got, status, timing, err := p.GetImage(context.Background(), fp, true, true)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if status != CacheHit {
		t.Fatalf("expected HIT, got %q", status)
	}
	if string(got.Buf.Bytes()) != "cached" {
		t.Fatalf("expected cached bytes, got %q", got.Buf.Bytes())
	}
	if timing.Header() == "" {
		t.Fatal("expected a mem_cache_get stage to be recorded")
	}
}

func TestGetImageDiskHitPromotesToMemCache(t *testing.T) {
	mem, err := cache.NewMemCache(1 << 20)
	if err != nil {
		t.Fatalf("NewMemCache: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	disk, err := cache.NewDiskCache(ctx, t.TempDir(), 1<<20)
	if err != nil {
		t.Fatalf("NewDiskCache: %v", err)
	}
	defer disk.Close()

	fp := fingerprint.New("https://example.com/b.jpg", 50, 0, fingerprint.FormatPNG, 0, 0)
	entry := cache.Entry{Buf: imgref.New([]byte("from-disk")), Format: fingerprint.FormatPNG, Width: 50, Height: 50}
	if err := disk.Set(ctx, fp, entry); err != nil {
		t.Fatalf("disk.Set: %v", err)
	}

	p := New(Config{AdmissionCapacity: 4, Mem: mem, Disk: disk, Fetcher: panicFetcher(t)})

	got, status, _, err := p.GetImage(ctx, fp, true, false)
	if err != nil {
		t.Fatalf("GetImage: %v", err)
	}
	if status != CacheHit {
		t.Fatalf("expected HIT, got %q", status)
	}
	if string(got.Buf.Bytes()) != "from-disk" {
		t.Fatalf("unexpected bytes %q", got.Buf.Bytes())
	}
	if _, ok := mem.Get(fp); !ok {
		t.Fatal("expected disk hit to promote into mem cache")
	}
}

func TestGetImageFetchErrorPropagates(t *testing.T) {
	fetcher := &stubFetcher{err: context.DeadlineExceeded}
	p := New(Config{AdmissionCapacity: 4, Fetcher: fetcher})
	fp := fingerprint.New("https://example.com/c.jpg", 0, 0, fingerprint.FormatNone, 0, 0)

	_, _, _, err := p.GetImage(context.Background(), fp, true, false)
	if err == nil {
		t.Fatal("expected fetch error to propagate")
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected exactly 1 fetch call, got %d", fetcher.calls)
	}
}

func TestServerTimingDisabledProducesEmptyHeader(t *testing.T) {
	ts := newServerTiming(false)
	ts.record("download", time.Now())
	if ts.Header() != "" {
		t.Fatalf("expected empty header when disabled, got %q", ts.Header())
	}
	if ts.ShouldShow() {
		t.Fatal("expected ShouldShow to be false")
	}
}

func TestServerTimingRecordsStagesInOrder(t *testing.T) {
	ts := newServerTiming(true)
	ts.record("download", time.Now().Add(-5*time.Millisecond))
	ts.record("process", time.Now().Add(-2*time.Millisecond))
	header := ts.Header()
	if header == "" {
		t.Fatal("expected non-empty header")
	}
	if !strings.HasPrefix(header, "download;dur=") || !strings.Contains(header, ",process;dur=") {
		t.Fatalf("expected download stage before process stage, got %q", header)
	}
	if !ts.ShouldShow() {
		t.Fatal("expected ShouldShow to be true")
	}
}
