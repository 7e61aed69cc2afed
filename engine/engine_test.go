package engine_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/byte4ever/ghcherry/engine"
)

func TestIsSHA(t *testing.T) {
	t.Parallel()

	assert.True(t, engine.IsSHA(strings.Repeat("a", 40)))
	assert.True(t, engine.IsSHA(strings.Repeat("A", 40)))
	assert.False(t, engine.IsSHA(strings.Repeat("a", 39)))
	assert.False(t, engine.IsSHA(strings.Repeat("a", 41)))
	assert.False(t, engine.IsSHA(strings.Repeat("g", 40)))
	assert.False(t, engine.IsSHA("main"))
	assert.False(t, engine.IsSHA(""))
}

func TestRefNotFoundError_message(t *testing.T) {
	t.Parallel()

	err := &engine.RefNotFoundError{Ref: "ghost"}

	assert.Contains(t, err.Error(), `"ghost"`)
}

func TestStaleRefError_message(t *testing.T) {
	t.Parallel()

	err := &engine.StaleRefError{
		Branch:   "release",
		Expected: "e1",
		Actual:   "a1",
	}

	msg := err.Error()

	assert.Contains(t, msg, "release")
	assert.Contains(t, msg, "e1")
	assert.Contains(t, msg, "a1")
}

func TestUnsupportedTreeEntryError_message(t *testing.T) {
	t.Parallel()

	err := &engine.UnsupportedTreeEntryError{
		Path: "lib/link",
		Mode: "120000",
	}

	assert.Contains(t, err.Error(), "lib/link")
	assert.Contains(t, err.Error(), "120000")
}
