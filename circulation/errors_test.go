package circulation_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bibliokit/circulation-go/circulation"
)

func Test_FailureConstructors_SetTheRightCode(t *testing.T) {
	assert.True(t, circulation.IsNotFound(circulation.NotFoundf("book %d not found", 7)))
	assert.True(t, circulation.IsConflict(circulation.Conflictf("book is not available")))
	assert.True(t, circulation.IsValidation(circulation.Validationf("bookId is required")))
	assert.True(t, circulation.IsDependencyFailure(circulation.DependencyFailure("query failed", assert.AnError)))
}

func Test_FailureCodeHelpers_RejectOtherCodes(t *testing.T) {
	err := circulation.Conflictf("book is not available")

	assert.False(t, circulation.IsNotFound(err))
	assert.False(t, circulation.IsValidation(err))
	assert.False(t, circulation.IsDependencyFailure(err))
}

func Test_FailureCodeHelpers_RejectPlainErrors(t *testing.T) {
	err := errors.New("boom")

	assert.False(t, circulation.IsNotFound(err))
	assert.False(t, circulation.IsConflict(err))
	assert.False(t, circulation.IsValidation(err))
	assert.False(t, circulation.IsDependencyFailure(err))
}

func Test_DependencyFailure_UnwrapsItsCause(t *testing.T) {
	err := circulation.DependencyFailure("query failed", circulation.ErrStaleState)

	assert.ErrorIs(t, err, circulation.ErrStaleState)
}

func Test_FailureCodeHelpers_SeeThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("handling request: %w", circulation.NotFoundf("book not found"))

	assert.True(t, circulation.IsNotFound(wrapped))
}

func Test_FailureError_MessageIncludesCode(t *testing.T) {
	err := circulation.NotFoundf("book %s not found", "b-1")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "book b-1 not found")
}
