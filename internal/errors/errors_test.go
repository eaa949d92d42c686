package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errSentinel = stderrors.New("sentinel")

func TestBuilder_PreservesCause(t *testing.T) {
	t.Parallel()

	err := New(errSentinel).
		Component("container").
		Category(CategoryValidation).
		Context("path", "/tmp/license.lic").
		Build()

	require.Error(t, err)
	assert.True(t, Is(err, errSentinel))
	assert.Equal(t, "sentinel", err.Error())

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.Equal(t, "container", ee.GetComponent())
	assert.Equal(t, CategoryValidation, ee.GetCategory())
	assert.Equal(t, "/tmp/license.lic", ee.GetContext()["path"])
}

func TestNewf_WrapsWithW(t *testing.T) {
	t.Parallel()

	err := Newf("license %s: %w", "x.txt", errSentinel).Category(CategoryFileIO).Build()
	assert.True(t, Is(err, errSentinel))
	assert.Equal(t, CategoryFileIO, CategoryOf(err))
	assert.Equal(t, CategoryFileIO, CategoryOf(fmt.Errorf("outer: %w", err)))
}

func TestCategoryOf_PlainError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, CategoryGeneric, CategoryOf(errSentinel))
}

func TestDetail_SortedContext(t *testing.T) {
	t.Parallel()

	err := Newf("boom").Component("supplier").Category(CategoryBuild).
		Context("b", 2).Context("a", 1).Build()

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.Equal(t, "[supplier/build] boom a=1 b=2", ee.Detail())
}

func TestNew_NilError(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "unknown error", New(nil).Build().Error())
}
