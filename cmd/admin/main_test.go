package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubPasswords(t *testing.T, entries ...string) {
	t.Helper()
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })
	readPassword = func(int) ([]byte, error) {
		next := entries[0]
		entries = entries[1:]
		return []byte(next), nil
	}
}

func TestPromptPasswordMatches(t *testing.T) {
	stubPasswords(t, "long enough secret", "long enough secret")
	var out bytes.Buffer

	pw, err := promptPassword(&out, 0)
	require.NoError(t, err)
	assert.Equal(t, "long enough secret", pw)
	assert.Contains(t, out.String(), "Confirm password: ")
}

func TestPromptPasswordMismatch(t *testing.T) {
	stubPasswords(t, "one secret value", "another value")

	_, err := promptPassword(&bytes.Buffer{}, 0)
	assert.EqualError(t, err, "passwords do not match")
}
