package common

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageError_IsMatchesKind(t *testing.T) {
	cause := context.DeadlineExceeded
	err := fmt.Errorf("job 3: %w", NewTimeoutError("ocr", "ocrmypdf", "timed out after 10m0s", cause))

	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrOCR)

	se, ok := AsStageError(err)
	require.True(t, ok)
	assert.Equal(t, KindTimeout, se.Kind)
	assert.Equal(t, "TimeoutError at ocr (ocrmypdf): timed out after 10m0s", se.Error())
}

func TestStageError_Constructors(t *testing.T) {
	cases := []struct {
		err   *StageError
		stage string
		is    error
	}{
		{NewConversionError("img2pdf", "exit 1", nil), "normalize", ErrConversion},
		{NewOCRError("ocrmypdf", "exit 2", nil), "ocr", ErrOCR},
		{NewExtractionError("pdftotext", "no text", nil), "extract", ErrExtraction},
		{NewCancelledError(), "schedule", ErrCancelled},
		{NewPackagingError("write zip", nil), "package", ErrPackaging},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.stage, tc.err.Stage)
		assert.ErrorIs(t, tc.err, tc.is)
	}
	assert.Equal(t, "CancelledError at schedule: batch cancelled before the file was processed", NewCancelledError().Error())
}

func TestAsStageError_Plain(t *testing.T) {
	_, ok := AsStageError(errors.New("boom"))
	assert.False(t, ok)
}

func TestAppError(t *testing.T) {
	err := NewAppError("CONFIG_ERROR", "read config file", ErrNotFound)
	assert.Equal(t, "CONFIG_ERROR: read config file: resource not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, "CONFIG_ERROR: plain", NewAppError("CONFIG_ERROR", "plain", nil).Error())

	assert.Nil(t, WrapError(nil, "ignored"))
	assert.ErrorIs(t, WrapError(ErrTooLarge, "upload"), ErrTooLarge)
}

func TestValidator(t *testing.T) {
	v := NewValidator().
		Field("filename", "  ", Required, MaxLength(10)).
		Field("size", int64(300), MaxBytes(100)).
		Field("other", int64(300), MaxBytes(0))

	require.True(t, v.HasErrors())
	assert.Len(t, v.Errors(), 2)
	assert.ErrorIs(t, v.Error(), ErrValidation)
	assert.Contains(t, v.ErrorMessage(), "exceeds the 100 byte per-file limit")

	assert.NoError(t, NewValidator().Field("filename", "scan.pdf", Required, MaxLength(10)).Error())
	assert.NotNil(t, MaxLength(3)("f", "abcd"))
}
