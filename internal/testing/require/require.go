// Package require wraps stretchr/testify/require with the handful of
// assertions this module's test suites actually use, so every _test.go
// file depends on one small internal surface rather than spreading
// testify calls directly through the tree. Grounded on the teacher's own
// internal/testing/require package, same name, same wrapping rationale.
package require

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func NoError(t testing.TB, err error, msgAndArgs ...interface{}) {
	t.Helper()
	require.NoError(t, err, msgAndArgs...)
}

func Error(t testing.TB, err error, msgAndArgs ...interface{}) {
	t.Helper()
	require.Error(t, err, msgAndArgs...)
}

func Equal(t testing.TB, expected, actual interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.Equal(t, expected, actual, msgAndArgs...)
}

func True(t testing.TB, value bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.True(t, value, msgAndArgs...)
}

func False(t testing.TB, value bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.False(t, value, msgAndArgs...)
}

func Nil(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.Nil(t, object, msgAndArgs...)
}

func NotNil(t testing.TB, object interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	require.NotNil(t, object, msgAndArgs...)
}

func ErrorContains(t testing.TB, err error, contains string, msgAndArgs ...interface{}) {
	t.Helper()
	require.ErrorContains(t, err, contains, msgAndArgs...)
}

func Len(t testing.TB, object interface{}, length int, msgAndArgs ...interface{}) {
	t.Helper()
	require.Len(t, object, length, msgAndArgs...)
}
