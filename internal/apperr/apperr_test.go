package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("loading book: %w", NotFound("no book found with id %d", 7))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrConflict))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "no book found with id 7", Message(err))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("duplicate key")
	err := Wrap(KindConflict, "email already registered", cause)

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, "conflict: email already registered: duplicate key", err.Error())
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, "", Message(errors.New("boom")))
}
