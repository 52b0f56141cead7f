package errx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDerivesStatusAndSeverity(t *testing.T) {
	e := New(nil, CodeRateLimitExceeded, "slow down")
	assert.Equal(t, http.StatusTooManyRequests, e.Status)
	assert.Equal(t, SeverityMedium, e.Severity)
	assert.Equal(t, "slow down", e.Error())
}

func TestErrorWrapsCause(t *testing.T) {
	cause := errors.New("boom")
	e := New(cause, CodeInternal, "something broke")
	assert.ErrorIs(t, e, cause)
	assert.Equal(t, "something broke: boom", e.Error())

	wrapped := fmt.Errorf("handler: %w", e)
	var out *Error
	require.ErrorAs(t, wrapped, &out)
	assert.Equal(t, CodeInternal, out.Code)
}

func TestFrom(t *testing.T) {
	t.Run("extracts typed error", func(t *testing.T) {
		orig := New(nil, CodeNoFoodDetected, "nothing edible here")
		got := From(fmt.Errorf("tool: %w", orig))
		assert.Equal(t, CodeNoFoodDetected, got.Code)
		assert.Equal(t, "nothing edible here", got.Message)
	})

	t.Run("wraps unknown as internal", func(t *testing.T) {
		got := From(errors.New("mystery"))
		assert.Equal(t, CodeInternal, got.Code)
		assert.Equal(t, SystemErrorMessage, got.Message)
		assert.Equal(t, http.StatusInternalServerError, got.Status)
	})
}

func TestValidationCarriesDetail(t *testing.T) {
	e := Validation(CodeMissingRequiredField, "prompt is required", Detail{
		Field: "prompt", Constraint: "required",
	})
	require.Len(t, e.Details, 1)
	assert.Equal(t, "prompt", e.Details[0].Field)
	assert.Equal(t, http.StatusBadRequest, e.Status)
	assert.Equal(t, SeverityLow, e.Severity)
}

func TestEnvVariableMissingIsCritical(t *testing.T) {
	e := EnvVariableMissing("GEMINI_API_KEY")
	assert.Equal(t, CodeEnvVariableMissing, e.Code)
	assert.Equal(t, SeverityCritical, e.Severity)
	assert.Contains(t, e.Message, "GEMINI_API_KEY")
}

func TestWrapRedis(t *testing.T) {
	t.Run("nil key", func(t *testing.T) {
		e := WrapRedis(redis.Nil)
		assert.Equal(t, CodeNotFound, e.Code)
		assert.Equal(t, http.StatusNotFound, e.Status)
	})

	t.Run("other failure", func(t *testing.T) {
		e := WrapRedis(errors.New("connection refused"))
		assert.Equal(t, CodeDatabaseError, e.Code)
	})
}

func TestClassifyModelError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code Code
	}{
		{"rate limit text", errors.New("429 RESOURCE_EXHAUSTED: quota exceeded"), CodeRateLimitExceeded},
		{"auth text", errors.New("API key not valid. Please pass a valid API key."), CodeAPIKeyInvalid},
		{"permission denied", errors.New("rpc error: PERMISSION_DENIED"), CodeAPIKeyInvalid},
		{"timeout text", errors.New("context deadline exceeded while awaiting headers"), CodeServiceTimeout},
		{"deadline sentinel", context.DeadlineExceeded, CodeServiceTimeout},
		{"opaque", errors.New("internal provider error"), CodeModelAPIError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ClassifyModelError(tt.err, "Gemini AI")
			require.NotNil(t, e)
			assert.Equal(t, tt.code, e.Code)
		})
	}

	t.Run("nil passes through", func(t *testing.T) {
		assert.Nil(t, ClassifyModelError(nil, "Gemini AI"))
	})

	t.Run("typed error passes through", func(t *testing.T) {
		orig := New(nil, CodeConfidenceTooLow, "too fuzzy")
		got := ClassifyModelError(orig, "Gemini AI")
		assert.Equal(t, CodeConfidenceTooLow, got.Code)
	})

	t.Run("rate limit sets retry after", func(t *testing.T) {
		e := ClassifyModelError(errors.New("rate limit exceeded"), "Gemini AI")
		assert.Equal(t, 60, e.RetryAfter)
	})
}
