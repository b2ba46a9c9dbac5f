package dataset

import (
	"os"
	"path/filepath"
	"strings"
)

// Format names an on-disk layout for corpora and examples.
type Format string

const (
	FormatJSONL  Format = "jsonl"
	FormatBinary Format = "bin"
)

// FormatFor guesses the format from a file extension. Token and example
// files written by this package use .ntok and .ntex.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ntok", ".ntex", ".bin":
		return FormatBinary
	default:
		return FormatJSONL
	}
}

// LoadCorpus reads a token corpus from a JSONL file or a binary token file.
func LoadCorpus(path string) ([][]int, error) {
	if FormatFor(path) == FormatBinary {
		tf, err := OpenTokenFile(path)
		if err != nil {
			return nil, err
		}
		defer func() { _ = tf.Close() }()
		return tf.Samples(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ReadCorpusJSONL(f)
}
