package vector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Index file layout (little endian):
//
//	[4B magic "SCIX"] [4B version] [4B kind] [4B dimensions] [4B metric] [4B count]
//	count × dimensions × 4B float32 vectors
//	kind == forest: [4B leafSize] [4B numTrees] [numTrees × 4B root] [4B numNodes] nodes
//
// Paths ending in ".zst" are zstd-compressed.
var indexMagic = [4]byte{'S', 'C', 'I', 'X'}

const indexVersion uint32 = 1

const (
	kindFlat   uint32 = 0
	kindForest uint32 = 1
)

type indexHeader struct {
	kind       uint32
	dimensions int
	metric     Metric
	count      int
}

func compressed(path string) bool {
	return strings.HasSuffix(path, ".zst")
}

// snapshotFile writes to a temporary sibling of path and renames it into place on Commit.
type snapshotFile struct {
	path string
	tmp  string
	f    *os.File
	zw   *zstd.Encoder
	bw   *bufio.Writer
}

func createSnapshotFile(path string) (*snapshotFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &IOError{Op: "create index dir", Path: path, Err: err}
	}
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	f, err := os.Create(tmp)
	if err != nil {
		return nil, &IOError{Op: "create index file", Path: path, Err: err}
	}
	s := &snapshotFile{path: path, tmp: tmp, f: f}
	var w io.Writer = f
	if compressed(path) {
		zw, err := zstd.NewWriter(f)
		if err != nil {
			_ = f.Close()
			_ = os.Remove(tmp)
			return nil, &IOError{Op: "create compressor", Path: path, Err: err}
		}
		s.zw = zw
		w = zw
	}
	s.bw = bufio.NewWriter(w)
	return s, nil
}

func (s *snapshotFile) Write(p []byte) (int, error) {
	return s.bw.Write(p)
}

func (s *snapshotFile) commit() error {
	if err := s.bw.Flush(); err != nil {
		s.abort()
		return &IOError{Op: "write index", Path: s.path, Err: err}
	}
	if s.zw != nil {
		if err := s.zw.Close(); err != nil {
			s.abort()
			return &IOError{Op: "close compressor", Path: s.path, Err: err}
		}
	}
	if err := s.f.Close(); err != nil {
		_ = os.Remove(s.tmp)
		return &IOError{Op: "close index file", Path: s.path, Err: err}
	}
	if err := os.Rename(s.tmp, s.path); err != nil {
		_ = os.Remove(s.tmp)
		return &IOError{Op: "rename index file", Path: s.path, Err: err}
	}
	return nil
}

func (s *snapshotFile) abort() {
	if s.zw != nil {
		_ = s.zw.Close()
	}
	_ = s.f.Close()
	_ = os.Remove(s.tmp)
}

// openSnapshotFile returns a reader for path, or nil with no error if path does not exist.
func openSnapshotFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &IOError{Op: "open index file", Path: path, Err: err}
	}
	if !compressed(path) {
		return struct {
			io.Reader
			io.Closer
		}{bufio.NewReader(f), f}, nil
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		_ = f.Close()
		return nil, &IOError{Op: "create decompressor", Path: path, Err: err}
	}
	return struct {
		io.Reader
		io.Closer
	}{zr, closerFunc(func() error {
		zr.Close()
		return f.Close()
	})}, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

// binWriter keeps the first write error so callers check once at the end.
type binWriter struct {
	w   io.Writer
	buf [4]byte
	err error
}

func (b *binWriter) u32(v uint32) {
	if b.err != nil {
		return
	}
	binary.LittleEndian.PutUint32(b.buf[:], v)
	_, b.err = b.w.Write(b.buf[:])
}

func (b *binWriter) i32(v int32) { b.u32(uint32(v)) }

func (b *binWriter) f32s(vec []float32) {
	for _, v := range vec {
		b.u32(math.Float32bits(v))
	}
}

func (b *binWriter) header(h indexHeader) {
	if b.err == nil {
		_, b.err = b.w.Write(indexMagic[:])
	}
	b.u32(indexVersion)
	b.u32(h.kind)
	b.u32(uint32(h.dimensions))
	b.u32(h.metric.code())
	b.u32(uint32(h.count))
}

type binReader struct {
	r   io.Reader
	buf [4]byte
	err error
}

func (b *binReader) u32() uint32 {
	if b.err != nil {
		return 0
	}
	if _, err := io.ReadFull(b.r, b.buf[:]); err != nil {
		b.err = err
		return 0
	}
	return binary.LittleEndian.Uint32(b.buf[:])
}

func (b *binReader) i32() int32 { return int32(b.u32()) }

// maxPrealloc caps how many elements a length read from a file may reserve
// up front. Larger lists grow as data actually arrives, so a corrupt count
// fails at end of file instead of allocating for it.
const maxPrealloc = 1 << 12

// f32s reads n floats. n is always a validated store dimension.
func (b *binReader) f32s(n int) []float32 {
	if b.err != nil {
		return nil
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(b.u32())
		if b.err != nil {
			return nil
		}
	}
	return out
}

// vectors reads up to count vectors of the given dimension, stopping at the first error.
func (b *binReader) vectors(count, dimensions int) [][]float32 {
	out := make([][]float32, 0, min(count, maxPrealloc))
	for i := 0; i < count && b.err == nil; i++ {
		v := b.f32s(dimensions)
		if b.err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}

// i32s reads up to count int32 values, stopping at the first error.
func (b *binReader) i32s(count int) []int32 {
	out := make([]int32, 0, min(count, maxPrealloc))
	for i := 0; i < count && b.err == nil; i++ {
		v := b.i32()
		if b.err != nil {
			break
		}
		out = append(out, v)
	}
	return out
}

func (b *binReader) header() (indexHeader, error) {
	var magic [4]byte
	if _, err := io.ReadFull(b.r, magic[:]); err != nil {
		return indexHeader{}, fmt.Errorf("read magic: %w", err)
	}
	if magic != indexMagic {
		return indexHeader{}, errors.New("not an index file")
	}
	if v := b.u32(); b.err == nil && v != indexVersion {
		return indexHeader{}, fmt.Errorf("unsupported index version %d", v)
	}
	h := indexHeader{kind: b.u32(), dimensions: int(b.u32())}
	code := b.u32()
	h.count = int(b.u32())
	if b.err != nil {
		return indexHeader{}, fmt.Errorf("read header: %w", b.err)
	}
	m, err := metricFromCode(code)
	if err != nil {
		return indexHeader{}, err
	}
	h.metric = m
	return h, nil
}

// readHeaderFor validates that a file header matches the receiving store.
func readHeaderFor(b *binReader, kind uint32, dimensions int, metric Metric) (indexHeader, error) {
	h, err := b.header()
	if err != nil {
		return h, err
	}
	if h.kind != kind {
		return h, fmt.Errorf("index kind mismatch: file has %d, store expects %d", h.kind, kind)
	}
	if h.dimensions != dimensions {
		return h, fmt.Errorf("dimension mismatch: file has %d, index expects %d", h.dimensions, dimensions)
	}
	if h.metric != metric {
		return h, fmt.Errorf("metric mismatch: file has %s, store uses %s", h.metric, metric)
	}
	return h, nil
}
