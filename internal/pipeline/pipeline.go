// Package pipeline is the request-coordination orchestrator: admission →
// single-flight → cache lookup → fetch → process → cache fill. It wires
// together internal/fingerprint, internal/singleflight, internal/cache
// and internal/processor exactly as spec.md §4.6 describes, with the
// permit-acquisition order (admission -> single-flight -> processor ->
// disk-I/O) spec.md §5 calls out as deadlock-avoiding.
//
// Grounded on _examples/original_source/src/handler.rs's Handler
// (get_image/get_metadata, ServerTiming, CacheResult) for control flow
// and stage naming, generalized to the two-tier cache and single-flight
// layer the distilled spec adds on top of the original's single cache
// call. The buffered-permit / defer-release concurrency idiom is
// grounded on the teacher's internal/handler/thumbnail.go.
package pipeline

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/imaged/imaged-go/internal/cache"
	"github.com/imaged/imaged-go/internal/exif"
	"github.com/imaged/imaged-go/internal/fingerprint"
	"github.com/imaged/imaged-go/internal/imgref"
	"github.com/imaged/imaged-go/internal/logger"
	"github.com/imaged/imaged-go/internal/processor"
	"github.com/imaged/imaged-go/internal/singleflight"
)

// CacheStatus mirrors handler.rs's CacheResult, plus the "no cache tier
// configured" case spec.md §4.6.3.f calls out explicitly.
type CacheStatus string

const (
	CacheAbsent CacheStatus = ""
	CacheHit    CacheStatus = "HIT"
	CacheMiss   CacheStatus = "MISS"
)

// Fetcher retrieves the raw bytes of a source image. internal/fetcher
// provides the concrete HTTP implementation; tests substitute a stub.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// ThumbHashFunc computes a ThumbHash string for a decoded RGBA8 buffer.
// internal/thumbhash.Encode satisfies this signature.
type ThumbHashFunc func(rgba []byte, width, height int) (string, error)

// Pipeline is the single entry point request handlers call into.
type Pipeline struct {
	admission *semaphore.Weighted
	sf        *singleflight.Group[fingerprint.Key, result]
	mem       *cache.MemCache // nil if MemCache not configured
	disk      *cache.DiskCache // nil if DiskCache not configured
	fetcher   Fetcher
	proc      *processor.Processor
	thumbhash ThumbHashFunc // nil disables thumbhash support
}

// Config collects the already-constructed collaborators a Pipeline
// wires together. All cache/thumbhash fields are optional.
type Config struct {
	AdmissionCapacity int
	Mem               *cache.MemCache
	Disk              *cache.DiskCache
	Fetcher           Fetcher
	Processor         *processor.Processor
	ThumbHash         ThumbHashFunc
}

func New(cfg Config) *Pipeline {
	capacity := cfg.AdmissionCapacity
	if capacity < 1 {
		capacity = 1
	}
	return &Pipeline{
		admission: semaphore.NewWeighted(int64(capacity)),
		sf:        singleflight.NewGroup[fingerprint.Key, result](),
		mem:       cfg.Mem,
		disk:      cfg.Disk,
		fetcher:   cfg.Fetcher,
		proc:      cfg.Processor,
		thumbhash: cfg.ThumbHash,
	}
}

type result struct {
	entry  cache.Entry
	status CacheStatus
}

// GetImage implements spec.md §4.6's get_image contract. shouldCache
// lets the caller honor a "nocache" request override without touching
// the cache tiers at all. wantTiming enables Server-Timing stage
// recording for this caller only. Stages are recorded inside the
// single-flight function, which only the leader runs, so a follower's
// timing stays empty even though the leader's download/process really
// happened.
func (p *Pipeline) GetImage(ctx context.Context, fp fingerprint.Key, shouldCache, wantTiming bool) (cache.Entry, CacheStatus, *ServerTiming, error) {
	timing := newServerTiming(wantTiming)

	if err := p.admission.Acquire(ctx, 1); err != nil {
		return cache.Entry{}, CacheAbsent, timing, fmt.Errorf("pipeline: admission: %w", err)
	}
	defer p.admission.Release(1)

	r, err := p.sf.Do(ctx, fp, func() (result, error) {
		return p.runLeader(ctx, fp, shouldCache, timing)
	})
	if err != nil {
		return cache.Entry{}, CacheAbsent, timing, err
	}
	return r.entry, r.status, timing, nil
}

func (p *Pipeline) runLeader(ctx context.Context, fp fingerprint.Key, shouldCache bool, timing *ServerTiming) (result, error) {
	if p.mem != nil {
		start := time.Now()
		entry, ok := p.mem.Get(fp)
		timing.record("mem_cache_get", start)
		if ok {
			return result{entry, CacheHit}, nil
		}
	}

	if p.disk != nil {
		start := time.Now()
		entry, ok, err := p.disk.Get(ctx, fp)
		timing.record("disk_cache_get", start)
		if err != nil {
			// Cache corruption is internal per spec.md §7; treat as a miss.
			logger.Warnf("pipeline: disk cache read error for %s: %v", fp, err)
		} else if ok {
			if shouldCache && p.mem != nil {
				p.mem.Set(fp, entry)
			}
			return result{entry, CacheHit}, nil
		}
	}

	start := time.Now()
	raw, err := p.fetcher.Fetch(ctx, fp.Input)
	timing.record("download", start)
	if err != nil {
		return result{}, fmt.Errorf("pipeline: fetching %s: %w", fp.Input, err)
	}

	start = time.Now()
	out, err := p.proc.Process(ctx, raw, processor.Options{
		Width:   fp.Opts.Width,
		Height:  fp.Opts.Height,
		Format:  fp.Opts.Format,
		Quality: fp.Opts.Quality,
		Blur:    fp.Opts.Blur,
	})
	timing.record("process", start)
	if err != nil {
		return result{}, err
	}

	entry := cache.Entry{
		Buf:        imgref.New(out.Buf),
		Format:     out.Format,
		Width:      out.Width,
		Height:     out.Height,
		OrigSize:   out.OrigSize,
		OrigFormat: out.OrigFormat,
		OrigWidth:  out.OrigWidth,
		OrigHeight: out.OrigHeight,
	}

	status := CacheAbsent
	if p.mem != nil || p.disk != nil {
		status = CacheMiss
	}

	if shouldCache {
		if p.mem != nil {
			start = time.Now()
			p.mem.Set(fp, entry)
			timing.record("mem_cache_put", start)
		}
		if p.disk != nil {
			start = time.Now()
			if err := p.disk.Set(ctx, fp, entry); err != nil {
				logger.Warnf("pipeline: disk cache write failed for %s: %v", fp, err)
			}
			timing.record("disk_cache_put", start)
		}
	}

	return result{entry, status}, nil
}

// GetMetadata implements spec.md §4.6's get_metadata contract: same
// admission and fetch discipline as GetImage, no cache interaction, no
// single-flight dedup (the spec only requires dedup for the encode
// path). The EXIF summary is parsed directly from the fetched bytes
// (internal/exif doesn't need a decoded image) alongside the processor's
// format/dimension/thumbhash work.
func (p *Pipeline) GetMetadata(ctx context.Context, url string, wantThumbHash, wantTiming bool) (processor.Metadata, *exif.Summary, *ServerTiming, error) {
	timing := newServerTiming(wantTiming)

	if err := p.admission.Acquire(ctx, 1); err != nil {
		return processor.Metadata{}, nil, timing, fmt.Errorf("pipeline: admission: %w", err)
	}
	defer p.admission.Release(1)

	start := time.Now()
	raw, err := p.fetcher.Fetch(ctx, url)
	timing.record("download", start)
	if err != nil {
		return processor.Metadata{}, nil, timing, fmt.Errorf("pipeline: fetching %s: %w", url, err)
	}

	var thumbFn ThumbHashFunc
	if wantThumbHash {
		thumbFn = p.thumbhash
	}

	start = time.Now()
	meta, err := p.proc.Metadata(ctx, raw, thumbFn)
	timing.record("process", start)
	if err != nil {
		return processor.Metadata{}, nil, timing, err
	}

	summary, exifErr := exif.Read(raw)
	if exifErr != nil {
		logger.Warnf("pipeline: exif parse failed for %s: %v", url, exifErr)
	}

	return meta, summary, timing, nil
}

// ServerTiming accumulates named stage durations into a Server-Timing
// header value, ported from handler.rs's ServerTiming. Disabled
// instances (wantTiming=false) record nothing and Header returns "".
type ServerTiming struct {
	mu      sync.Mutex
	enabled bool
	parts   []string
}

func newServerTiming(enabled bool) *ServerTiming {
	return &ServerTiming{enabled: enabled}
}

func (t *ServerTiming) record(name string, start time.Time) {
	if t == nil || !t.enabled {
		return
	}
	dur := float64(time.Since(start)) / float64(time.Millisecond)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.parts = append(t.parts, fmt.Sprintf("%s;dur=%.1f", name, dur))
}

// ShouldShow reports whether the caller asked for timing.
func (t *ServerTiming) ShouldShow() bool {
	return t != nil && t.enabled
}

// Header renders the accumulated stages as a Server-Timing header value.
func (t *ServerTiming) Header() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.parts, ",")
}
