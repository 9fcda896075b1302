package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormPath(t *testing.T) {
	assert.Equal(t, "docs/a.txt", NormPath("docs/a.txt"))
	assert.Equal(t, "docs/a.txt", NormPath("./docs//a.txt"))
	assert.Equal(t, "a.txt", NormPath("a.txt"))
}

func TestIsValidSyncPath(t *testing.T) {
	assert.True(t, IsValidSyncPath("docs/a.txt"))
	assert.True(t, IsValidSyncPath("a.txt"))
	assert.False(t, IsValidSyncPath(""))
	assert.False(t, IsValidSyncPath("/etc/passwd"))
	assert.False(t, IsValidSyncPath("../escape"))
	assert.False(t, IsValidSyncPath(".."))
	assert.False(t, IsValidSyncPath("docs/../../escape"))
	assert.False(t, IsValidSyncPath("docs\\a.txt"))
}
