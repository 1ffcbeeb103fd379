package auth

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCode(t *testing.T) {
	c1, err := NewCode()
	require.NoError(t, err)
	c2, err := NewCode()
	require.NoError(t, err)

	assert.Len(t, c1, CodeBytes*2)
	assert.NotEqual(t, c1, c2)

	_, err = hex.DecodeString(c1)
	assert.NoError(t, err)
}

func TestNewSessionID(t *testing.T) {
	id, err := NewSessionID()
	require.NoError(t, err)
	assert.Len(t, id, 43)
}
