package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
)

const (
	MagicTokens = "NTOK"

	TokensMajor uint16 = 1
	TokensMinor uint16 = 0

	tokensHeaderSize = 16
)

// Token files hold Count fixed-width samples of uint32 little-endian ids:
//
//	magic[4] major:u16 minor:u16 sample_len:u32 count:u32
//	count * sample_len * u32
type tokensHeader struct {
	Major     uint16
	Minor     uint16
	SampleLen uint32
	Count     uint32
}

func (h tokensHeader) encode() []byte {
	buf := make([]byte, tokensHeaderSize)
	copy(buf, MagicTokens)
	binary.LittleEndian.PutUint16(buf[4:], h.Major)
	binary.LittleEndian.PutUint16(buf[6:], h.Minor)
	binary.LittleEndian.PutUint32(buf[8:], h.SampleLen)
	binary.LittleEndian.PutUint32(buf[12:], h.Count)
	return buf
}

func decodeTokensHeader(b []byte) (tokensHeader, error) {
	if len(b) < tokensHeaderSize {
		return tokensHeader{}, ErrCorruptFile
	}
	if string(b[:4]) != MagicTokens {
		return tokensHeader{}, ErrInvalidMagic
	}
	h := tokensHeader{
		Major:     binary.LittleEndian.Uint16(b[4:]),
		Minor:     binary.LittleEndian.Uint16(b[6:]),
		SampleLen: binary.LittleEndian.Uint32(b[8:]),
		Count:     binary.LittleEndian.Uint32(b[12:]),
	}
	if h.Major != TokensMajor {
		return tokensHeader{}, ErrUnsupportedMajor
	}
	return h, nil
}

// TokenWriter streams fixed-width samples to a file. The header is
// reserved up front and patched by Finalise.
type TokenWriter struct {
	f         *os.File
	bw        *bufio.Writer
	sampleLen int
	count     uint32
	buf       []byte
	done      bool
}

func NewTokenWriter(f *os.File, sampleLen int) (*TokenWriter, error) {
	if f == nil {
		return nil, errors.New("dataset: nil file")
	}
	if sampleLen <= 0 || uint64(sampleLen) > math.MaxUint32 {
		return nil, fmt.Errorf("dataset: invalid sample length %d", sampleLen)
	}
	if err := f.Truncate(0); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	w := &TokenWriter{
		f:         f,
		bw:        bufio.NewWriterSize(f, 1<<20),
		sampleLen: sampleLen,
		buf:       make([]byte, 4*sampleLen),
	}
	if _, err := w.bw.Write(make([]byte, tokensHeaderSize)); err != nil {
		return nil, err
	}
	return w, nil
}

// Write appends one sample. Its length must equal the writer's sample
// length and every id must fit in uint32.
func (w *TokenWriter) Write(sample []int) error {
	if w.done {
		return errors.New("dataset: write after finalise")
	}
	if len(sample) != w.sampleLen {
		return fmt.Errorf("dataset: sample has %d tokens, want %d", len(sample), w.sampleLen)
	}
	if w.count == math.MaxUint32 {
		return errors.New("dataset: too many samples")
	}
	for i, id := range sample {
		if id < 0 || uint64(id) > math.MaxUint32 {
			return fmt.Errorf("dataset: token %d at position %d does not fit in uint32", id, i)
		}
		binary.LittleEndian.PutUint32(w.buf[4*i:], uint32(id))
	}
	if _, err := w.bw.Write(w.buf); err != nil {
		return err
	}
	w.count++
	return nil
}

func (w *TokenWriter) Count() int { return int(w.count) }

// Finalise flushes buffered samples and writes the header. The file is
// left open.
func (w *TokenWriter) Finalise() error {
	if w.done {
		return nil
	}
	w.done = true
	if err := w.bw.Flush(); err != nil {
		return err
	}
	hdr := tokensHeader{
		Major:     TokensMajor,
		Minor:     TokensMinor,
		SampleLen: uint32(w.sampleLen),
		Count:     w.count,
	}
	if _, err := w.f.WriteAt(hdr.encode(), 0); err != nil {
		return err
	}
	return nil
}

// TokenFile is a read-only token corpus. Sample data is decoded from the
// mapping on demand.
type TokenFile struct {
	m   *mappedFile
	hdr tokensHeader
}

// OpenTokenFile maps a token file and validates its layout. The returned
// file must be closed to release the mapping.
func OpenTokenFile(path string) (*TokenFile, error) {
	m, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	tf, err := parseTokenFile(m)
	if err != nil {
		_ = m.close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tf, nil
}

func parseTokenFile(m *mappedFile) (*TokenFile, error) {
	hdr, err := decodeTokensHeader(m.data)
	if err != nil {
		return nil, err
	}
	want := uint64(tokensHeaderSize) + uint64(hdr.Count)*uint64(hdr.SampleLen)*4
	if want != uint64(len(m.data)) {
		return nil, ErrCorruptFile
	}
	if hdr.Count > 0 && hdr.SampleLen == 0 {
		return nil, ErrCorruptFile
	}
	return &TokenFile{m: m, hdr: hdr}, nil
}

func (t *TokenFile) Len() int       { return int(t.hdr.Count) }
func (t *TokenFile) SampleLen() int { return int(t.hdr.SampleLen) }

// Sample decodes sample i into a new slice.
func (t *TokenFile) Sample(i int) []int {
	if i < 0 || i >= t.Len() {
		panic("dataset: sample index out of range")
	}
	n := t.SampleLen()
	off := tokensHeaderSize + i*n*4
	out := make([]int, n)
	for j := range out {
		out[j] = int(binary.LittleEndian.Uint32(t.m.data[off+4*j:]))
	}
	return out
}

// Samples decodes the whole corpus.
func (t *TokenFile) Samples() [][]int {
	out := make([][]int, t.Len())
	for i := range out {
		out[i] = t.Sample(i)
	}
	return out
}

func (t *TokenFile) Close() error {
	if t == nil {
		return nil
	}
	return t.m.close()
}
