package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "12 king st w", NormalizeAddress("12 King Street West"))
	assert.Equal(t, "12 king st w", NormalizeAddress("  12 king st. W "))
	assert.Equal(t, "4 northern ave unit 5", NormalizeAddress("4 Northern Avenue, Unit #5"))
	assert.Equal(t, "", NormalizeAddress(" ,. "))
}

func TestAddressKey(t *testing.T) {
	a := AddressKey("12 King Street West, Toronto")
	b := AddressKey("12 KING ST W TORONTO")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
	assert.NotEqual(t, a, AddressKey("14 King Street West, Toronto"))
	assert.Empty(t, AddressKey(""))
}
