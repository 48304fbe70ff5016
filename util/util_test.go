package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateOrderIDNeverPanics(t *testing.T) {
	// hosts without a usable machine id must get an error, not a nil
	// dereference
	id, err := GenerateOrderID()
	if err != nil {
		assert.Empty(t, id)
		return
	}
	assert.NotEmpty(t, id)

	id2, err := GenerateFillID()
	assert.NoError(t, err)
	assert.NotEmpty(t, id2)
	assert.NotEqual(t, id, id2)
}

func TestParseList(t *testing.T) {
	assert.Equal(t, []string{"USDT", "USDC"}, ParseList("USDT, USDC"))
	assert.Equal(t, []string{"USDT"}, ParseList("USDT,"))
	assert.Nil(t, ParseList(""))
}
