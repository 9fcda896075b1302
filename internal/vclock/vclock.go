// Package vclock implements the per-file version vectors used to order
// concurrent updates between replicas of a user's sync folder.
package vclock

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrMalformedVector = errors.New("vclock: malformed version vector")

// VersionVector maps an opaque client identifier to a monotonically
// increasing counter. Missing keys are treated as zero in all comparisons.
type VersionVector map[string]int64

// New returns an empty version vector.
func New() VersionVector {
	return make(VersionVector)
}

// Parse decodes a version vector from its canonical JSON form. Non-integer
// counter values fail with ErrMalformedVector.
func Parse(data []byte) (VersionVector, error) {
	if len(data) == 0 {
		return New(), nil
	}

	var raw map[string]json.Number
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVector, err)
	}

	vv := make(VersionVector, len(raw))
	for key, num := range raw {
		n, err := num.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: counter %q=%s is not an integer", ErrMalformedVector, key, num)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: counter %q=%d is negative", ErrMalformedVector, key, n)
		}
		vv[key] = n
	}
	return vv, nil
}

// Increment raises the counter for clientID by one, creating it if absent.
func (vv VersionVector) Increment(clientID string) {
	vv[clientID]++
}

// Get returns the counter for clientID, zero if absent.
func (vv VersionVector) Get(clientID string) int64 {
	return vv[clientID]
}

// Dominates reports whether vv strictly dominates other: every counter in vv
// is >= the counterpart in other and at least one is greater.
func (vv VersionVector) Dominates(other VersionVector) bool {
	greater := false
	for key, n := range other {
		if vv[key] < n {
			return false
		}
	}
	for key, n := range vv {
		if n > other[key] {
			greater = true
			break
		}
	}
	return greater
}

// Concurrent reports whether neither vector dominates the other and they are
// not equal.
func (vv VersionVector) Concurrent(other VersionVector) bool {
	return !vv.Equal(other) && !vv.Dominates(other) && !other.Dominates(vv)
}

// Equal reports whether both vectors hold the same counters. Zero counters
// compare equal to absent ones.
func (vv VersionVector) Equal(other VersionVector) bool {
	for key, n := range vv {
		if other[key] != n {
			return false
		}
	}
	for key, n := range other {
		if vv[key] != n {
			return false
		}
	}
	return true
}

// Merge returns the pointwise maximum of vv and other.
func (vv VersionVector) Merge(other VersionVector) VersionVector {
	merged := make(VersionVector, len(vv)+len(other))
	for key, n := range vv {
		merged[key] = n
	}
	for key, n := range other {
		if n > merged[key] {
			merged[key] = n
		}
	}
	return merged
}

// Clone returns a deep copy of vv.
func (vv VersionVector) Clone() VersionVector {
	cloned := make(VersionVector, len(vv))
	for key, n := range vv {
		cloned[key] = n
	}
	return cloned
}

// JSON returns the canonical serialized form: a JSON object with keys in
// lexicographic order.
func (vv VersionVector) JSON() string {
	if len(vv) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(vv))
	for key := range vv {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, key := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(key)
		sb.Write(keyJSON)
		sb.WriteByte(':')
		fmt.Fprintf(&sb, "%d", vv[key])
	}
	sb.WriteByte('}')
	return sb.String()
}

// MarshalJSON implements json.Marshaler with the canonical form.
func (vv VersionVector) MarshalJSON() ([]byte, error) {
	return []byte(vv.JSON()), nil
}

// UnmarshalJSON implements json.Unmarshaler with the Parse validation rules.
func (vv *VersionVector) UnmarshalJSON(data []byte) error {
	parsed, err := Parse(data)
	if err != nil {
		return err
	}
	*vv = parsed
	return nil
}

func (vv VersionVector) String() string {
	return vv.JSON()
}
