package cache

import (
	"testing"

	"github.com/imaged/imaged-go/internal/fingerprint"
	"github.com/imaged/imaged-go/internal/imgref"
)

func entryOf(b string) Entry {
	return Entry{Buf: imgref.New([]byte(b))}
}

func TestNewMemCacheRejectsZeroBudget(t *testing.T) {
	if _, err := NewMemCache(0); err != ErrZeroMaxBytes {
		t.Fatalf("got %v, want ErrZeroMaxBytes", err)
	}
}

func TestGetSetRoundTrip(t *testing.T) {
	c, err := NewMemCache(1024)
	if err != nil {
		t.Fatalf("NewMemCache: %v", err)
	}
	fp := fingerprint.New("u", 100, 0, fingerprint.FormatNone, 0, 0)
	c.Set(fp, entryOf("hello"))

	got, ok := c.Get(fp)
	if !ok {
		t.Fatal("expected hit immediately after set")
	}
	if string(got.Buf.Bytes()) != "hello" {
		t.Fatalf("got %q, want %q", got.Buf.Bytes(), "hello")
	}
}

func TestMissReturnsFalse(t *testing.T) {
	c, _ := NewMemCache(1024)
	fp := fingerprint.New("missing", 0, 0, fingerprint.FormatNone, 0, 0)
	if _, ok := c.Get(fp); ok {
		t.Fatal("expected miss")
	}
}

func TestSizeTrackedAcrossSetAndEvict(t *testing.T) {
	c, _ := NewMemCache(10)
	fp1 := fingerprint.New("a", 0, 0, fingerprint.FormatNone, 0, 0)
	fp2 := fingerprint.New("b", 0, 0, fingerprint.FormatNone, 0, 0)

	c.Set(fp1, entryOf("12345")) // 5 bytes
	if c.Size() != 5 {
		t.Fatalf("size = %d, want 5", c.Size())
	}
	c.Set(fp2, entryOf("123456")) // 6 bytes, total would be 11 > 10, evict fp1
	if _, ok := c.Get(fp1); ok {
		t.Fatal("expected fp1 evicted under size pressure")
	}
	if _, ok := c.Get(fp2); !ok {
		t.Fatal("expected fp2 present")
	}
	if c.Size() != 6 {
		t.Fatalf("size = %d, want 6", c.Size())
	}
}

func TestReplaceUnderSameKeySubtractsOldSize(t *testing.T) {
	c, _ := NewMemCache(1024)
	fp := fingerprint.New("a", 0, 0, fingerprint.FormatNone, 0, 0)
	c.Set(fp, entryOf("12345"))
	c.Set(fp, entryOf("1"))
	if c.Size() != 1 {
		t.Fatalf("size = %d, want 1 after replacing with a smaller entry", c.Size())
	}
}

func TestOversizedEntryIsRetainedAlone(t *testing.T) {
	c, _ := NewMemCache(4)
	fp := fingerprint.New("a", 0, 0, fingerprint.FormatNone, 0, 0)
	c.Set(fp, entryOf("this-is-bigger-than-budget"))
	if _, ok := c.Get(fp); !ok {
		t.Fatal("expected the single oversized entry to be retained, not evicted")
	}
}

func TestGetPromotesRecency(t *testing.T) {
	c, _ := NewMemCache(10)
	fp1 := fingerprint.New("a", 0, 0, fingerprint.FormatNone, 0, 0)
	fp2 := fingerprint.New("b", 0, 0, fingerprint.FormatNone, 0, 0)
	c.Set(fp1, entryOf("12345"))
	c.Set(fp2, entryOf("12345"))
	c.Get(fp1) // promote fp1 so fp2 becomes the LRU tail
	fp3 := fingerprint.New("c", 0, 0, fingerprint.FormatNone, 0, 0)
	c.Set(fp3, entryOf("12345")) // evicts LRU tail (fp2), not fp1

	if _, ok := c.Get(fp1); !ok {
		t.Fatal("expected fp1 to survive eviction after being promoted")
	}
	if _, ok := c.Get(fp2); ok {
		t.Fatal("expected fp2 to be evicted as the LRU tail")
	}
}
