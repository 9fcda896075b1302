package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/driftbox/driftbox/internal/client/localstate"
	"github.com/driftbox/driftbox/internal/vclock"
)

func TestDecide(t *testing.T) {
	serverVV := vclock.VersionVector{"a": 2, "b": 1}

	tracked := func(status string, vv vclock.VersionVector) *localstate.TrackedFile {
		return &localstate.TrackedFile{FilePath: "docs/report.txt", SyncStatus: status, VersionVector: vv}
	}

	tests := []struct {
		name    string
		tracked *localstate.TrackedFile
		onDisk  bool
		want    string
	}{
		{
			name:    "tombstoned path is never touched",
			tracked: tracked(localstate.StatusDeleted, nil),
			onDisk:  false,
			want:    "",
		},
		{
			name:    "tombstoned even when file reappeared",
			tracked: tracked(localstate.StatusDeleted, nil),
			onDisk:  true,
			want:    "",
		},
		{
			name:    "unknown file not on disk downloads",
			tracked: nil,
			onDisk:  false,
			want:    localstate.OpDownload,
		},
		{
			name:    "unknown file on disk uploads",
			tracked: nil,
			onDisk:  true,
			want:    localstate.OpUpload,
		},
		{
			name:    "equal vectors are in sync",
			tracked: tracked(localstate.StatusSynced, vclock.VersionVector{"a": 2, "b": 1}),
			onDisk:  true,
			want:    "",
		},
		{
			name:    "server dominates downloads",
			tracked: tracked(localstate.StatusSynced, vclock.VersionVector{"a": 1, "b": 1}),
			onDisk:  true,
			want:    localstate.OpDownload,
		},
		{
			name:    "local dominates uploads",
			tracked: tracked(localstate.StatusSynced, vclock.VersionVector{"a": 2, "b": 1, "c": 3}),
			onDisk:  true,
			want:    localstate.OpUpload,
		},
		{
			name:    "concurrent vectors conflict",
			tracked: tracked(localstate.StatusSynced, vclock.VersionVector{"a": 1, "c": 1}),
			onDisk:  true,
			want:    localstate.OpConflictResolve,
		},
		{
			name:    "empty local vector downloads",
			tracked: tracked(localstate.StatusSynced, vclock.VersionVector{}),
			onDisk:  true,
			want:    localstate.OpDownload,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, decide(tt.tracked, tt.onDisk, serverVV))
		})
	}
}
