package config

import "testing"

func TestParseBytesPlainNumber(t *testing.T) {
	got, err := ParseBytes("2048")
	if err != nil || got != 2048 {
		t.Fatalf("got (%d, %v)", got, err)
	}
}

func TestParseBytesDecimalUnits(t *testing.T) {
	// "Decimal" names the KB/MB/GB spellings; ParseBytes gives them the
	// same 1024-based factors as KiB/MiB/GiB.
	cases := map[string]int64{
		"1KB":   1 << 10,
		"10MB":  10 << 20,
		"2GB":   2 << 30,
		"1.5GB": int64(1.5 * (1 << 30)),
	}
	for in, want := range cases {
		got, err := ParseBytes(in)
		if err != nil {
			t.Fatalf("ParseBytes(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("ParseBytes(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestParseBytesBinaryUnits(t *testing.T) {
	got, err := ParseBytes("1GiB")
	if err != nil || got != 1<<30 {
		t.Fatalf("got (%d, %v)", got, err)
	}
}

func TestParseBytesCaseInsensitive(t *testing.T) {
	got, err := ParseBytes("5mb")
	if err != nil || got != 5<<20 {
		t.Fatalf("got (%d, %v)", got, err)
	}
}

func TestParseBytesRejectsGarbage(t *testing.T) {
	if _, err := ParseBytes("not-a-size"); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadDefaultsWhenUnset(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %q", cfg.Port)
	}
	if cfg.MemCacheSizeBytes != 0 {
		t.Errorf("expected MemCache disabled by default, got %d", cfg.MemCacheSizeBytes)
	}
}

func TestLoadReadsMemCacheSize(t *testing.T) {
	t.Setenv("MEM_CACHE_SIZE", "256MB")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MemCacheSizeBytes != 256<<20 {
		t.Errorf("got %d, want %d", cfg.MemCacheSizeBytes, 256<<20)
	}
}

func TestLoadSplitsVerifyKeys(t *testing.T) {
	t.Setenv("VERIFY_KEYS", "aa11, bb22,cc33")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := []string{"aa11", "bb22", "cc33"}
	if len(cfg.VerifyKeysHex) != len(want) {
		t.Fatalf("got %v, want %v", cfg.VerifyKeysHex, want)
	}
	for i, v := range want {
		if cfg.VerifyKeysHex[i] != v {
			t.Errorf("index %d: got %q, want %q", i, cfg.VerifyKeysHex[i], v)
		}
	}
}
