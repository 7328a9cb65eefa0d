package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogPath(t *testing.T) {
	for _, ok := range []string{"a.txt", "dir/b.txt", ".hidden/x"} {
		got, err := catalogPath(ok)
		assert.NoError(t, err, ok)
		assert.Equal(t, ok, got)
	}
	for _, bad := range []string{"", ".", "..", "../x", "/abs", "a//b", "a/./b", `a\b`, "dir/"} {
		_, err := catalogPath(bad)
		assert.ErrorIs(t, err, errBadPath, bad)
	}
}

func TestPage(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, []int{1, 2}, page(items, 2, 0))
	assert.Equal(t, []int{5}, page(items, 2, 4))
	assert.Equal(t, []int{}, page(items, 2, 9))
}
