package vocab

import (
	"errors"
	"fmt"
)

var (
	ErrTokenOutOfRange = errors.New("vocab: token id out of range")
	ErrInvalid         = errors.New("vocab: invalid vocabulary")
)

// Vocabulary carries the special ids shared by the window builder and the
// decoding loop. It is read-only once constructed.
type Vocabulary struct {
	Size            int
	PadTokenID      int
	BoundaryTokenID int
}

// Validate reports whether the special ids fall inside the vocabulary.
func (v Vocabulary) Validate() error {
	if v.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalid, v.Size)
	}
	if !v.Contains(v.PadTokenID) {
		return fmt.Errorf("%w: pad token %d outside [0, %d)", ErrInvalid, v.PadTokenID, v.Size)
	}
	if !v.Contains(v.BoundaryTokenID) {
		return fmt.Errorf("%w: boundary token %d outside [0, %d)", ErrInvalid, v.BoundaryTokenID, v.Size)
	}
	return nil
}

func (v Vocabulary) Contains(id int) bool {
	return id >= 0 && id < v.Size
}

// CheckTokens returns an error naming the first id outside [0, Size).
func (v Vocabulary) CheckTokens(ids []int) error {
	for i, id := range ids {
		if !v.Contains(id) {
			return &TokenError{Pos: i, ID: id, Size: v.Size}
		}
	}
	return nil
}

// TokenError describes an out-of-range id and its position.
type TokenError struct {
	Pos  int
	ID   int
	Size int
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("vocab: token %d at position %d outside [0, %d)", e.ID, e.Pos, e.Size)
}

func (e *TokenError) Unwrap() error {
	return ErrTokenOutOfRange
}
