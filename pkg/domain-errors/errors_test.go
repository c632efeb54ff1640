package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, CodeUnavailable, "settings store unavailable")

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.True(t, HasCode(err, CodeUnavailable))
	assert.Equal(t, "settings store unavailable: connection refused", err.Error())
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestHasCodeThroughFmtWrapping(t *testing.T) {
	err := fmt.Errorf("handler: %w", New(CodeValidation, "bad value"))
	assert.True(t, HasCode(err, CodeValidation))
	assert.False(t, HasCode(err, CodeInternal))
	assert.False(t, HasCode(errors.New("plain"), CodeInternal))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		CodeBadRequest:   http.StatusBadRequest,
		CodeValidation:   http.StatusBadRequest,
		CodeUnauthorized: http.StatusUnauthorized,
		CodeNotFound:     http.StatusNotFound,
		CodeConflict:     http.StatusConflict,
		CodeUnavailable:  http.StatusServiceUnavailable,
		CodeInternal:     http.StatusInternalServerError,
	}
	for code, status := range cases {
		t.Run(string(code), func(t *testing.T) {
			assert.Equal(t, status, code.HTTPStatus())
		})
	}
	assert.False(t, CodeInternal.IsClientError())
	assert.True(t, CodeValidation.IsClientError())
}
