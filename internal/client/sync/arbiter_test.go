package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArbiterDefaultsToLocal(t *testing.T) {
	a := NewArbiter(nil)
	assert.Equal(t, UseLocal, a.Resolve("notes/a.txt"))
}

func TestArbiterCustomResolver(t *testing.T) {
	a := NewArbiter(func(path string) Resolution {
		return UseServer
	})
	assert.Equal(t, UseServer, a.Resolve("notes/a.txt"))
}

func TestArbiterResolvedGraceWindow(t *testing.T) {
	a := NewArbiter(nil)

	assert.Equal(t, UseLocal, a.Resolve("notes/a.txt"))
	// the second conflict for the same path inside the window is dropped
	assert.Equal(t, Cancelled, a.Resolve("notes/a.txt"))
	// other paths are unaffected
	assert.Equal(t, UseLocal, a.Resolve("notes/b.txt"))
}

func TestArbiterUploadedGraceWindow(t *testing.T) {
	a := NewArbiter(nil)

	a.MarkUploaded("notes/a.txt")
	assert.Equal(t, Cancelled, a.Resolve("notes/a.txt"))
}

func TestArbiterCancelledLeavesNoWindow(t *testing.T) {
	calls := 0
	a := NewArbiter(func(path string) Resolution {
		calls++
		if calls == 1 {
			return Cancelled
		}
		return UseLocal
	})

	assert.Equal(t, Cancelled, a.Resolve("notes/a.txt"))
	// a cancelled resolution does not open the grace window
	assert.Equal(t, UseLocal, a.Resolve("notes/a.txt"))
}
