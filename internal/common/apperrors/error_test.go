package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError(t *testing.T) {
	t.Run("TestError", func(t *testing.T) {
		ErrBaseErr := New("base error")
		assert.Equal(t, "base error", ErrBaseErr.Error())
		assert.Equal(t, "msg", ErrBaseErr.New("msg").Error())
		assert.ErrorIs(t, ErrBaseErr, ErrBaseErr)

		ErrFirstLevel := ErrBaseErr.New("first level")
		assert.Equal(t, "first level", ErrFirstLevel.Error())
		assert.ErrorIs(t, ErrFirstLevel, ErrBaseErr)

		ErrAnotherErr := New("another error")
		ErrWrappedErr := ErrFirstLevel.Err(ErrAnotherErr)
		assert.Equal(t, "first level", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, ErrAnotherErr)

		err := errors.New("error")
		ErrWrappedErr = ErrFirstLevel.Err(err)
		assert.Equal(t, "first level", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, err)

		ErrWrappedErr = ErrFirstLevel.MsgErr("msg", err)
		assert.Equal(t, "msg", ErrWrappedErr.Error())
		assert.ErrorIs(t, ErrWrappedErr, ErrBaseErr)
		assert.ErrorIs(t, ErrWrappedErr, err)
	})

	t.Run("RefinementDoesNotMutateKind", func(t *testing.T) {
		ErrKind := New("kind")
		refined := ErrKind.Msg("refined message")
		assert.Equal(t, "kind", ErrKind.Error())
		assert.Equal(t, "refined message", refined.Error())
		assert.ErrorIs(t, refined, ErrKind)

		withCause := ErrKind.Err(errors.New("cause"))
		assert.Empty(t, ErrKind.Unwrap())
		assert.Len(t, withCause.Unwrap(), 1)

		prefixed := ErrKind.Prefix("ctx")
		assert.Equal(t, "ctx: kind", prefixed.Error())
		assert.Equal(t, "kind", ErrKind.Error())
	})

	t.Run("ExpandError", func(t *testing.T) {
		base := New("op failed")
		cause := errors.New("timeout")
		e := base.Err(cause).SetExpandError(true)
		assert.Equal(t, "op failed: timeout", e.ErrorAll())
		assert.Equal(t, "op failed", e.Error())
	})
}
