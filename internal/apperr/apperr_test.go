package apperr

import (
	"errors"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesDetailedCopy(t *testing.T) {
	err := ErrInvalidSources.Withf("source %d is not a valid URL", 2)
	assert.True(t, errors.Is(err, ErrInvalidSources))
	assert.False(t, errors.Is(err, ErrInvalidVerdict))
	assert.Equal(t, "source 2 is not a valid URL", err.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(ErrExplanationTooShort))
	assert.Equal(t, KindConflict, KindOf(ErrAlreadyClaimedToday))
	assert.Equal(t, KindNotFound, KindOf(ErrUserNotFound))
	assert.Equal(t, KindInvariant, KindOf(ErrNegativeBalance))
	assert.Equal(t, KindStorage, KindOf(eris.New("connection refused")))
}

func TestUserMessage_HidesInternals(t *testing.T) {
	assert.Equal(t, "you cannot verify your own post", UserMessage(ErrSelfVerification))
	assert.Equal(t, "something went wrong, please try again", UserMessage(ErrNegativeBalance))
	assert.Equal(t, "something went wrong, please try again", UserMessage(eris.New("pq: relation users does not exist")))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, "duplicate_verification", CodeOf(ErrDuplicateVerification))
	assert.Equal(t, "internal", CodeOf(errors.New("boom")))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "conflict", KindConflict.String())
	assert.Equal(t, "storage", KindStorage.String())
}
