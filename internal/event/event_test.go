package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeString(t *testing.T) {
	tests := []struct {
		want string
		typ  Type
	}{
		{want: "StageStarted", typ: StageStarted},
		{want: "StageComplete", typ: StageComplete},
		{want: "DirCreated", typ: DirCreated},
		{want: "CopyStarted", typ: CopyStarted},
		{want: "FileStarted", typ: FileStarted},
		{want: "FileCompleted", typ: FileCompleted},
		{want: "FileFailed", typ: FileFailed},
		{want: "FileSkipped", typ: FileSkipped},
		{want: "CopyComplete", typ: CopyComplete},
		{want: "VerifyStarted", typ: VerifyStarted},
		{want: "VerifyOK", typ: VerifyOK},
		{want: "VerifyFailed", typ: VerifyFailed},
		{want: "VerifyComplete", typ: VerifyComplete},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.typ.String())
		})
	}
}

func TestTypeStringUnknown(t *testing.T) {
	assert.Equal(t, "Unknown", Type(999).String())
	assert.Equal(t, "Unknown", Type(0).String())
}

func TestEventZeroValue(t *testing.T) {
	var e Event
	assert.Equal(t, Type(0), e.Type)
	assert.True(t, e.Timestamp.IsZero())
	assert.Empty(t, e.Path)
	assert.Zero(t, e.Size)
	require.NoError(t, e.Error)
}

func TestEventFields(t *testing.T) {
	now := time.Now()
	e := Event{
		Type:      FileCompleted,
		Timestamp: now,
		Index:     4,
		Path:      "dir/file.txt",
		Size:      1024,
		WorkerID:  3,
	}
	assert.Equal(t, FileCompleted, e.Type)
	assert.Equal(t, now, e.Timestamp)
	assert.Equal(t, 4, e.Index)
	assert.Equal(t, "dir/file.txt", e.Path)
	assert.Equal(t, int64(1024), e.Size)
	assert.Equal(t, 3, e.WorkerID)
}
