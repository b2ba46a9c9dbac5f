package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/cespare/xxhash/v2"

	"github.com/samcharles93/nexttok/internal/window"
)

const (
	MagicExamples = "NTEX"

	ExamplesMajor uint16 = 1
	ExamplesMinor uint16 = 0

	examplesHeaderSize = 16
	examplesFooterSize = 16
)

// Example files hold training examples with their labels in index form:
//
//	magic[4] major:u16 minor:u16 seq_len:u32 vocab_size:u32
//	count * (seq_len * u32 input ids, u32 label)
//	count:u64 xxhash64:u64
//
// The checksum covers every byte before it, count included.
type ExamplesInfo struct {
	SeqLen    int
	VocabSize int
	Count     int
}

// ExampleWriter streams examples to w. Close writes the footer; it does
// not close w.
type ExampleWriter struct {
	bw     *bufio.Writer
	out    io.Writer
	digest *xxhash.Digest
	info   ExamplesInfo
	buf    []byte
	closed bool
}

func NewExampleWriter(w io.Writer, seqLen, vocabSize int) (*ExampleWriter, error) {
	if seqLen <= 0 || uint64(seqLen) > math.MaxUint32 {
		return nil, fmt.Errorf("dataset: invalid sequence length %d", seqLen)
	}
	if vocabSize <= 0 || uint64(vocabSize) > math.MaxUint32 {
		return nil, fmt.Errorf("dataset: invalid vocab size %d", vocabSize)
	}
	bw := bufio.NewWriterSize(w, 1<<20)
	digest := xxhash.New()
	ew := &ExampleWriter{
		bw:     bw,
		out:    io.MultiWriter(bw, digest),
		digest: digest,
		info:   ExamplesInfo{SeqLen: seqLen, VocabSize: vocabSize},
		buf:    make([]byte, 4*(seqLen+1)),
	}

	hdr := make([]byte, examplesHeaderSize)
	copy(hdr, MagicExamples)
	binary.LittleEndian.PutUint16(hdr[4:], ExamplesMajor)
	binary.LittleEndian.PutUint16(hdr[6:], ExamplesMinor)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(seqLen))
	binary.LittleEndian.PutUint32(hdr[12:], uint32(vocabSize))
	if _, err := ew.out.Write(hdr); err != nil {
		return nil, err
	}
	return ew, nil
}

func (w *ExampleWriter) Write(ex window.Example) error {
	if w.closed {
		return errors.New("dataset: write after close")
	}
	if len(ex.InputIDs) != w.info.SeqLen {
		return fmt.Errorf("dataset: example has %d input ids, want %d", len(ex.InputIDs), w.info.SeqLen)
	}
	if ex.Label.Size != w.info.VocabSize || ex.Label.Index < 0 || ex.Label.Index >= w.info.VocabSize {
		return fmt.Errorf("dataset: label %d/%d does not match vocab size %d", ex.Label.Index, ex.Label.Size, w.info.VocabSize)
	}
	for i, id := range ex.InputIDs {
		if id < 0 || id >= w.info.VocabSize {
			return fmt.Errorf("dataset: input id %d at position %d outside vocabulary", id, i)
		}
		binary.LittleEndian.PutUint32(w.buf[4*i:], uint32(id))
	}
	binary.LittleEndian.PutUint32(w.buf[4*w.info.SeqLen:], uint32(ex.Label.Index))
	if _, err := w.out.Write(w.buf); err != nil {
		return err
	}
	w.info.Count++
	return nil
}

func (w *ExampleWriter) WriteAll(examples []window.Example) error {
	for i, ex := range examples {
		if err := w.Write(ex); err != nil {
			return fmt.Errorf("example %d: %w", i, err)
		}
	}
	return nil
}

func (w *ExampleWriter) Info() ExamplesInfo { return w.info }

func (w *ExampleWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var count [8]byte
	binary.LittleEndian.PutUint64(count[:], uint64(w.info.Count))
	if _, err := w.out.Write(count[:]); err != nil {
		return err
	}
	var sum [8]byte
	binary.LittleEndian.PutUint64(sum[:], w.digest.Sum64())
	if _, err := w.bw.Write(sum[:]); err != nil {
		return err
	}
	return w.bw.Flush()
}

// DecodeExamples validates and decodes an example file held in memory.
func DecodeExamples(data []byte) ([]window.Example, ExamplesInfo, error) {
	var info ExamplesInfo
	if len(data) < examplesHeaderSize+examplesFooterSize {
		return nil, info, ErrCorruptFile
	}
	if string(data[:4]) != MagicExamples {
		return nil, info, ErrInvalidMagic
	}
	if binary.LittleEndian.Uint16(data[4:]) != ExamplesMajor {
		return nil, info, ErrUnsupportedMajor
	}
	info.SeqLen = int(binary.LittleEndian.Uint32(data[8:]))
	info.VocabSize = int(binary.LittleEndian.Uint32(data[12:]))
	if info.SeqLen == 0 || info.VocabSize == 0 {
		return nil, info, ErrCorruptFile
	}

	sumOff := len(data) - 8
	if xxhash.Sum64(data[:sumOff]) != binary.LittleEndian.Uint64(data[sumOff:]) {
		return nil, info, ErrChecksum
	}

	count := binary.LittleEndian.Uint64(data[sumOff-8:])
	recSize := uint64(info.SeqLen+1) * 4
	body := uint64(len(data) - examplesHeaderSize - examplesFooterSize)
	if body%recSize != 0 || body/recSize != count {
		return nil, info, ErrCorruptFile
	}
	info.Count = int(count)

	out := make([]window.Example, info.Count)
	off := examplesHeaderSize
	for i := range out {
		ids := make([]int, info.SeqLen)
		for j := range ids {
			ids[j] = int(binary.LittleEndian.Uint32(data[off:]))
			off += 4
		}
		label := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if label >= info.VocabSize {
			return nil, info, fmt.Errorf("%w: example %d label %d outside vocabulary", ErrCorruptFile, i, label)
		}
		out[i] = window.Example{
			InputIDs: ids,
			Label:    window.OneHot{Index: label, Size: info.VocabSize},
		}
	}
	return out, info, nil
}

// ReadExamples maps path and decodes it.
func ReadExamples(path string) ([]window.Example, ExamplesInfo, error) {
	m, err := mapFile(path)
	if err != nil {
		return nil, ExamplesInfo{}, err
	}
	defer func() { _ = m.close() }()
	examples, info, err := DecodeExamples(m.data)
	if err != nil {
		return nil, info, fmt.Errorf("%s: %w", path, err)
	}
	return examples, info, nil
}
