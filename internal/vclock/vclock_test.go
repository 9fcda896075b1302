package vclock

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIncrement(t *testing.T) {
	vv := New()
	vv.Increment("a")
	vv.Increment("a")
	vv.Increment("b")

	assert.EqualValues(t, 2, vv.Get("a"))
	assert.EqualValues(t, 1, vv.Get("b"))
	assert.EqualValues(t, 0, vv.Get("missing"))
}

func TestDominates(t *testing.T) {
	a := VersionVector{"x": 2, "y": 1}
	b := VersionVector{"x": 1, "y": 1}

	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))

	// missing keys treated as zero
	c := VersionVector{"x": 1}
	assert.True(t, b.Dominates(c))
	assert.False(t, c.Dominates(b))

	// a vector never dominates itself
	assert.False(t, a.Dominates(a.Clone()))
	assert.False(t, New().Dominates(New()))
}

func TestDominates_StrictPartialOrder(t *testing.T) {
	// irreflexive + transitive
	a := VersionVector{"x": 1}
	b := VersionVector{"x": 2}
	c := VersionVector{"x": 2, "y": 1}

	assert.False(t, a.Dominates(a))
	assert.True(t, b.Dominates(a))
	assert.True(t, c.Dominates(b))
	assert.True(t, c.Dominates(a))
}

func TestConcurrent(t *testing.T) {
	a := VersionVector{"x": 2, "y": 1}
	b := VersionVector{"x": 1, "y": 2}

	// symmetric
	assert.True(t, a.Concurrent(b))
	assert.True(t, b.Concurrent(a))

	// irreflexive
	assert.False(t, a.Concurrent(a.Clone()))

	// not concurrent when one dominates
	c := VersionVector{"x": 3, "y": 3}
	assert.False(t, a.Concurrent(c))
	assert.False(t, c.Concurrent(a))
}

func TestEqual(t *testing.T) {
	a := VersionVector{"x": 1, "y": 0}
	b := VersionVector{"x": 1}

	// zero counters compare equal to absent ones
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))
	assert.True(t, New().Equal(New()))

	c := VersionVector{"x": 2}
	assert.False(t, a.Equal(c))
}

func TestMerge(t *testing.T) {
	a := VersionVector{"x": 2, "y": 1}
	b := VersionVector{"x": 1, "y": 3, "z": 1}

	merged := a.Merge(b)
	assert.Equal(t, VersionVector{"x": 2, "y": 3, "z": 1}, merged)

	// merge dominates or equals both inputs
	assert.False(t, a.Dominates(merged))
	assert.False(t, b.Dominates(merged))
}

func TestJSONRoundTrip(t *testing.T) {
	vv := VersionVector{"client-b": 3, "client-a": 1, "unknown-future-key": 7}

	data, err := json.Marshal(vv)
	require.NoError(t, err)

	// canonical: keys sorted
	assert.Equal(t, `{"client-a":1,"client-b":3,"unknown-future-key":7}`, string(data))

	parsed, err := Parse(data)
	require.NoError(t, err)
	assert.True(t, vv.Equal(parsed))
}

func TestParse_Empty(t *testing.T) {
	vv, err := Parse(nil)
	require.NoError(t, err)
	assert.Empty(t, vv)

	vv, err = Parse([]byte(`{}`))
	require.NoError(t, err)
	assert.Empty(t, vv)
}

func TestParse_Malformed(t *testing.T) {
	for _, bad := range []string{
		`{"a":"one"}`,
		`{"a":1.5}`,
		`{"a":-1}`,
		`{"a":true}`,
		`[1,2]`,
		`{`,
	} {
		_, err := Parse([]byte(bad))
		assert.ErrorIs(t, err, ErrMalformedVector, "input %s", bad)
	}
}

func TestDeriveClientID(t *testing.T) {
	id := DeriveClientID("Alice")

	assert.Len(t, id, 36)
	assert.Equal(t, id, DeriveClientID("alice"), "derivation is case-insensitive")
	assert.Equal(t, id, DeriveClientID("ALICE"))
	assert.NotEqual(t, id, DeriveClientID("bob"))

	// uuid-form: 8-4-4-4-12
	parts := []int{8, 4, 4, 4, 12}
	offset := 0
	for i, n := range parts {
		if i > 0 {
			assert.Equal(t, byte('-'), id[offset])
			offset++
		}
		offset += n
	}
}
