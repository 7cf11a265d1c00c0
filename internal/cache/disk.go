package cache

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/imaged/imaged-go/internal/fingerprint"
	"github.com/imaged/imaged-go/internal/imgref"
	"github.com/imaged/imaged-go/internal/logger"
)

// ErrDiskZeroMaxBytes is returned by NewDiskCache when max_bytes is 0.
var ErrDiskZeroMaxBytes = errors.New("cache: max bytes for disk cache must be greater than 0")

// ErrMalformed indicates a cache file failed the bit-exact layout check
// from spec.md §6: shorter than 4 bytes, or a declared metadata length
// exceeding the file size.
var ErrMalformed = errors.New("cache: malformed disk cache entry")

const (
	diskIOPermits  = 128
	cleanerPeriod  = 10 * time.Second
	removeBatchCap = 10
	// sampleCap bounds how many file candidates a single eviction pass
	// considers, mirroring the Rust original's Vec::with_capacity(50).
	sampleCap  = 50
	dirFanout1 = 16
	dirFanout2 = 16 * 16
)

// diskMeta is the JSON-encoded header: ImageOutput without its buffer, as
// spec.md §6 requires ("ImageOutput without its buffer field").
type diskMeta struct {
	Format     fingerprint.OutputFormat `json:"format"`
	Width      int                      `json:"width"`
	Height     int                      `json:"height"`
	OrigSize   int64                    `json:"orig_size"`
	OrigFormat fingerprint.OutputFormat `json:"orig_format"`
	OrigWidth  int                      `json:"orig_width"`
	OrigHeight int                      `json:"orig_height"`
}

// DiskCache is a size-bounded on-disk store using randomized,
// sampling-based eviction instead of exact LRU or TTL, per spec.md §4.3
// and its REDESIGN FLAG over the teacher's original TTL-based cache.
// Grounded line-for-line on
// _examples/original_source/src/cache/disk.rs.
type DiskCache struct {
	dir      string
	sema     *semaphore.Weighted
	maxSize  int64
	curSize  atomic.Int64
	rand     *rand.Rand
	randMu   chanMutex
	stopOnce atomic.Bool
	stopCh   chan struct{}
}

// chanMutex is a 1-buffered channel used as a trivial mutex guarding the
// cache's own PRNG, which is not safe for concurrent use.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}
func (m chanMutex) Lock()   { <-m }
func (m chanMutex) Unlock() { m <- struct{}{} }

// NewDiskCache creates dir (and parents) if missing, starts the
// background cleaner, and returns the cache. maxSize must be > 0. The
// cleaner runs until ctx is cancelled or Close is called.
func NewDiskCache(ctx context.Context, dir string, maxSize int64) (*DiskCache, error) {
	if maxSize <= 0 {
		return nil, ErrDiskZeroMaxBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: creating disk cache dir: %w", err)
	}
	d := &DiskCache{
		dir:     dir,
		sema:    semaphore.NewWeighted(diskIOPermits),
		maxSize: maxSize,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
		randMu:  newChanMutex(),
		stopCh:  make(chan struct{}),
	}
	go d.runCleaner(ctx)
	return d, nil
}

// Close stops the background cleaner. The cleaner is never joined with
// request-handling goroutines (per spec.md §5), so Close is best-effort
// and does not block on an in-progress pass.
func (d *DiskCache) Close() {
	if d.stopOnce.CompareAndSwap(false, true) {
		close(d.stopCh)
	}
}

// Get reads and parses the entry for fp. A missing file is a miss (ok
// false, err nil), not an error. Malformed entries return ErrMalformed.
func (d *DiskCache) Get(ctx context.Context, fp fingerprint.Key) (Entry, bool, error) {
	path := d.pathFor(fp)
	if err := d.sema.Acquire(ctx, 1); err != nil {
		return Entry{}, false, err
	}
	defer d.sema.Release(1)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache: reading disk entry: %w", err)
	}

	entry, err := decodeEntry(data)
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Set writes entry for fp atomically with respect to partial files: a
// concurrent or retried write that lands on an existing file is treated
// as idempotent success, never corrupting the existing entry.
func (d *DiskCache) Set(ctx context.Context, fp fingerprint.Key, entry Entry) error {
	path := d.pathFor(fp)
	if err := d.sema.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.sema.Release(1)

	added, err := writeEntry(path, entry)
	if err != nil {
		return fmt.Errorf("cache: writing disk entry: %w", err)
	}
	d.curSize.Add(added)
	return nil
}

func (d *DiskCache) pathFor(fp fingerprint.Key) string {
	h := fingerprint.Hash(fp)
	return filepath.Join(d.dir, h[len(h)-1:], h[len(h)-3:len(h)-1], h)
}

// ApproxSize returns the atomically-tracked current size estimate. Drift
// against the real on-disk total is expected and acceptable between
// cleaner ticks, per spec.md §9.
func (d *DiskCache) ApproxSize() int64 {
	return d.curSize.Load()
}

func decodeEntry(data []byte) (Entry, error) {
	if len(data) < 4 {
		return Entry{}, fmt.Errorf("%w: file too short", ErrMalformed)
	}
	metaLen := int(binary.BigEndian.Uint32(data[:4]))
	if len(data) < metaLen+4 {
		return Entry{}, fmt.Errorf("%w: declared length %d exceeds file size %d", ErrMalformed, metaLen, len(data))
	}

	var meta diskMeta
	if err := json.Unmarshal(data[4:4+metaLen], &meta); err != nil {
		return Entry{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	buf := make([]byte, len(data)-4-metaLen)
	copy(buf, data[4+metaLen:])

	return Entry{
		Buf:        imgref.New(buf),
		Format:     meta.Format,
		Width:      meta.Width,
		Height:     meta.Height,
		OrigSize:   meta.OrigSize,
		OrigFormat: meta.OrigFormat,
		OrigWidth:  meta.OrigWidth,
		OrigHeight: meta.OrigHeight,
	}, nil
}

// writeEntry writes the bit-exact layout from spec.md §6 and returns the
// total bytes written (header + metadata + image), for approx_size
// accounting. If path already exists, it returns (0, nil): per spec.md
// §4.3 that counts as idempotent success, and the original writer already
// accounted for the size.
func writeEntry(path string, entry Entry) (int64, error) {
	meta := diskMeta{
		Format:     entry.Format,
		Width:      entry.Width,
		Height:     entry.Height,
		OrigSize:   entry.OrigSize,
		OrigFormat: entry.OrigFormat,
		OrigWidth:  entry.OrigWidth,
		OrigHeight: entry.OrigHeight,
	}
	metaBytes, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(metaBytes)))

	f, existed, err := createExclusive(path)
	if err != nil {
		return 0, err
	}
	if existed {
		return 0, nil
	}
	defer f.Close()

	buf := entry.Buf.Bytes()
	n1, err := f.Write(header)
	if err != nil {
		return 0, err
	}
	n2, err := f.Write(metaBytes)
	if err != nil {
		return 0, err
	}
	n3, err := f.Write(buf)
	if err != nil {
		return 0, err
	}
	return int64(n1 + n2 + n3), nil
}

// createExclusive opens path with O_CREATE|O_EXCL, lazily creating parent
// directories and retrying once if they were missing. existed is true if
// the target already existed, in which case f is nil. Grounded on
// _examples/original_source/src/cache/disk.rs's create_file.
func createExclusive(path string) (f *os.File, existed bool, err error) {
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err == nil {
		return f, false, nil
	}
	if errors.Is(err, os.ErrExist) {
		return nil, true, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}
	if mkErr := os.MkdirAll(filepath.Dir(path), 0o755); mkErr != nil {
		return nil, false, mkErr
	}
	f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, true, nil
		}
		return nil, false, err
	}
	return f, false, nil
}

// --- background cleaner ---

func (d *DiskCache) runCleaner(ctx context.Context) {
	initial, err := d.computeInitialSize()
	if err != nil {
		logger.Warnf("disk cache: computing initial size: %v", err)
	} else {
		d.curSize.Add(initial)
	}

	ticker := time.NewTicker(cleanerPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
			d.clean()
		}
	}
}

// computeInitialSize walks all shard subdirectories at depth 3 (the full
// <root>/<h[-1]>/<h[-3:-1]>/<h> nesting) and sums file sizes, matching
// get_initial_size's WalkDir(min_depth=3, max_depth=3) in disk.rs.
func (d *DiskCache) computeInitialSize() (int64, error) {
	var total int64
	err := filepath.Walk(d.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries, matching filter_map(Result::ok)
		}
		if info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(d.dir, path)
		if relErr != nil {
			return nil
		}
		if depth(rel) == 3 {
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func depth(rel string) int {
	n := 0
	for _, r := range rel {
		if r == filepath.Separator {
			n++
		}
	}
	return n + 1
}

// clean repeatedly removes batches of files, sampled at random, until
// approx_size drops to or below max_size. Mirrors disk.rs's clean/
// remove_files loop, including the checked-subtraction invariant check on
// the running total.
func (d *DiskCache) clean() {
	curSize := d.curSize.Load()
	if curSize <= d.maxSize {
		return
	}

	for {
		toRemove := checkedSub(curSize, d.maxSize, "calculating bytes to remove")
		var removed int64
		for removed < toRemove {
			batch := d.removeFiles(toRemove - removed)
			if batch == 0 {
				// Nothing left to sample/remove; avoid spinning forever.
				break
			}
			removed += batch
		}
		old := d.curSize.Add(-removed) + removed
		curSize = checkedSub(old, removed, "calculating current size")
		if curSize <= d.maxSize || removed == 0 {
			return
		}
	}
}

type fileCandidate struct {
	path    string
	size    int64
	sortKey time.Time
}

// removeFiles samples up to sampleCap file candidates, scores them by
// best-available access time (falling back to mtime), deletes the
// lowest-scoring up to removeBatchCap of them, and returns bytes freed.
func (d *DiskCache) removeFiles(toRemove int64) int64 {
	candidates := d.sampleCandidates()
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].sortKey.Before(candidates[j].sortKey)
	})

	var removed int64
	for i, c := range candidates {
		if i >= removeBatchCap {
			break
		}
		if err := os.Remove(c.path); err == nil {
			removed += c.size
			if removed >= toRemove {
				break
			}
		}
	}
	return removed
}

// sampleCandidates draws a bounded random sample of shard directories
// (first level, then second level within each), then files within those,
// matching get_random_entries/get_random_dirs/get_random_files.
func (d *DiskCache) sampleCandidates() []fileCandidate {
	out := make([]fileCandidate, 0, sampleCap)

	for _, first := range d.randomSubdirs(d.dir, dirFanout1) {
		for _, second := range d.randomSubdirs(first, dirFanout2) {
			remaining := cap(out) - len(out)
			if remaining <= 0 {
				return out
			}
			out = append(out, d.randomFiles(second, remaining)...)
			if len(out) >= cap(out) {
				return out
			}
		}
	}
	return out
}

func (d *DiskCache) randomSubdirs(path string, num int) []string {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, filepath.Join(path, e.Name()))
		}
	}
	return chooseMultiple(d, dirs, num)
}

func (d *DiskCache) randomFiles(path string, num int) []fileCandidate {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	chosen := chooseMultiple(d, names, num)

	out := make([]fileCandidate, 0, len(chosen))
	for _, name := range chosen {
		full := filepath.Join(path, name)
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		out = append(out, fileCandidate{path: full, size: info.Size(), sortKey: accessOrModTime(info)})
	}
	return out
}

// chooseMultiple is a simple random sample without replacement: if num >=
// len(items), returns all of them (order randomized); otherwise returns
// num distinct elements. A standalone generic function, not a method,
// since Go methods cannot carry their own type parameters.
func chooseMultiple[T any](d *DiskCache, items []T, num int) []T {
	if num <= 0 || len(items) == 0 {
		return nil
	}
	d.randMu.Lock()
	perm := d.rand.Perm(len(items))
	d.randMu.Unlock()

	if num > len(items) {
		num = len(items)
	}
	out := make([]T, 0, num)
	for _, idx := range perm[:num] {
		out = append(out, items[idx])
	}
	return out
}
