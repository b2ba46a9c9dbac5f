package dataset

import "errors"

var (
	ErrInvalidMagic     = errors.New("dataset: invalid magic")
	ErrUnsupportedMajor = errors.New("dataset: unsupported major version")
	ErrCorruptFile      = errors.New("dataset: corrupt file")
	ErrChecksum         = errors.New("dataset: checksum mismatch")
)
