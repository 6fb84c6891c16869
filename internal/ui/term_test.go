package ui

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTermDetectionOnNonTerminals(t *testing.T) {
	var buf bytes.Buffer
	assert.False(t, IsTTY(&buf))
	assert.Equal(t, 80, TermWidth(&buf))

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()
	assert.False(t, IsTTY(f))
	assert.Equal(t, 80, TermWidth(f))
}
