package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordsRoundTrip(t *testing.T) {
	p := NewPasswords(4)

	hashed, err := p.Hash("Password1!")
	require.NoError(t, err)
	assert.NoError(t, p.Check("Password1!", hashed))
	assert.Error(t, p.Check("wrong", hashed))
}

func TestPasswordsCostOutOfRangeFallsBack(t *testing.T) {
	assert.Equal(t, NewPasswords(0), NewPasswords(99))
}
