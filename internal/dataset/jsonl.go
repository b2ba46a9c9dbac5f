package dataset

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"

	"github.com/samcharles93/nexttok/internal/window"
)

const maxLineSize = 64 << 20

type sampleRecord struct {
	Tokens   []int `json:"tokens"`
	InputIDs []int `json:"input_ids"`
}

// ReadCorpusJSONL reads one token sample per line. A line is either a bare
// array of ids or an object with a "tokens" or "input_ids" array. Blank
// lines are skipped.
func ReadCorpusJSONL(r io.Reader) ([][]int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	var corpus [][]int
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		sample, err := decodeSample(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		corpus = append(corpus, sample)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return corpus, nil
}

func decodeSample(b []byte) ([]int, error) {
	if b[0] == '[' {
		var ids []int
		if err := json.Unmarshal(b, &ids); err != nil {
			return nil, err
		}
		return ids, nil
	}
	var rec sampleRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	if rec.Tokens != nil {
		return rec.Tokens, nil
	}
	if rec.InputIDs != nil {
		return rec.InputIDs, nil
	}
	return nil, fmt.Errorf("%w: record has neither tokens nor input_ids", ErrCorruptFile)
}

// ExampleRecord is the JSONL form of a training example. LabelOneHot is
// only filled when dense labels are requested.
type ExampleRecord struct {
	InputIDs    []int     `json:"input_ids"`
	Label       int       `json:"label"`
	LabelOneHot []float32 `json:"label_one_hot,omitempty"`
}

// ExampleEncoder writes one JSON object per example.
type ExampleEncoder struct {
	enc   *json.Encoder
	dense bool
}

func NewExampleEncoder(w io.Writer, dense bool) *ExampleEncoder {
	return &ExampleEncoder{enc: json.NewEncoder(w), dense: dense}
}

func (e *ExampleEncoder) Encode(ex window.Example) error {
	rec := ExampleRecord{InputIDs: ex.InputIDs, Label: ex.Label.Index}
	if e.dense {
		rec.LabelOneHot = ex.Label.Dense()
	}
	return e.enc.Encode(rec)
}

// ReadExamplesJSONL decodes examples written by ExampleEncoder.
func ReadExamplesJSONL(r io.Reader, vocabSize int) ([]window.Example, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineSize)

	var out []window.Example
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var rec ExampleRecord
		if err := json.Unmarshal(b, &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if rec.Label < 0 || rec.Label >= vocabSize {
			return nil, fmt.Errorf("line %d: label %d outside vocabulary of %d", line, rec.Label, vocabSize)
		}
		out = append(out, window.Example{
			InputIDs: rec.InputIDs,
			Label:    window.OneHot{Index: rec.Label, Size: vocabSize},
		})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
