/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package apierror_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/dealport/settle/internal/apierror"
	"github.com/stretchr/testify/assert"
)

func TestNewAPIError(t *testing.T) {
	details := "Some internal error details"
	apiErr := apierror.NewAPIError(apierror.ErrInternalServer, "Something went wrong", details)

	assert.Equal(t, apierror.ErrInternalServer, apiErr.Code)
	assert.Equal(t, apierror.CategoryInternal, apiErr.Category)
	assert.Equal(t, "Something went wrong", apiErr.Message)
	assert.Equal(t, details, apiErr.Details)
	assert.Equal(t, "INTERNAL_SERVER_ERROR: Something went wrong", apiErr.Error())
}

func TestCategoryOf(t *testing.T) {
	assert.Equal(t, apierror.CategoryValidation, apierror.CategoryOf(apierror.ErrInvalidAmount))
	assert.Equal(t, apierror.CategoryPrecondition, apierror.CategoryOf(apierror.ErrFrozen))
	assert.Equal(t, apierror.CategoryConflict, apierror.CategoryOf(apierror.ErrConcurrentModification))
	assert.Equal(t, apierror.CategoryGuard, apierror.CategoryOf(apierror.ErrWalletNotEmpty))
	assert.Equal(t, apierror.CategoryExternal, apierror.CategoryOf(apierror.ErrExtractionTimeout))
	assert.Equal(t, apierror.CategoryAuthz, apierror.CategoryOf(apierror.ErrCannotSelfSuspend))
	assert.Equal(t, apierror.CategoryInternal, apierror.CategoryOf("SOMETHING_NEW"))
}

func TestIsFollowsWrappedErrors(t *testing.T) {
	base := apierror.NewAPIError(apierror.ErrOrderNotFrozen, "order is not frozen", nil)
	wrapped := fmt.Errorf("reactivate: %w", base)

	assert.True(t, apierror.Is(wrapped, apierror.ErrOrderNotFrozen))
	assert.False(t, apierror.Is(wrapped, apierror.ErrFrozen))
	assert.False(t, apierror.Is(errors.New("plain"), apierror.ErrFrozen))
	assert.False(t, apierror.Is(nil, apierror.ErrFrozen))
}

func TestMapErrorToHTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{
			name:     "Not found",
			err:      apierror.NewAPIError(apierror.ErrOrderNotFound, "order not found", nil),
			expected: http.StatusNotFound,
		},
		{
			name:     "Wrong state",
			err:      apierror.NewAPIError(apierror.ErrInvalidTransition, "bad edge", nil),
			expected: http.StatusUnprocessableEntity,
		},
		{
			name:     "Conflict",
			err:      apierror.NewAPIError(apierror.ErrConcurrentModification, "stale version", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "Guard",
			err:      apierror.NewAPIError(apierror.ErrUserHasPayouts, "payouts pending", nil),
			expected: http.StatusConflict,
		},
		{
			name:     "Invalid input",
			err:      apierror.NewAPIError(apierror.ErrInvalidInput, "Invalid input", nil),
			expected: http.StatusBadRequest,
		},
		{
			name:     "Extraction timeout",
			err:      apierror.NewAPIError(apierror.ErrExtractionTimeout, "timed out", nil),
			expected: http.StatusGatewayTimeout,
		},
		{
			name:     "Extraction failure",
			err:      apierror.NewAPIError(apierror.ErrExtractionFailed, "provider error", nil),
			expected: http.StatusBadGateway,
		},
		{
			name:     "Self suspend",
			err:      apierror.NewAPIError(apierror.ErrCannotSelfSuspend, "no", nil),
			expected: http.StatusForbidden,
		},
		{
			name:     "Wrapped",
			err:      fmt.Errorf("ctx: %w", apierror.NewAPIError(apierror.ErrUserNotFound, "missing", nil)),
			expected: http.StatusNotFound,
		},
		{
			name:     "Unknown Error",
			err:      errors.New("Unknown error"),
			expected: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			statusCode := apierror.MapErrorToHTTPStatus(tt.err)
			assert.Equal(t, tt.expected, statusCode)
		})
	}
}
