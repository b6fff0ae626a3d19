package proctitle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTitle(t *testing.T) {
	assert.Equal(t, "huemap-gateway", Title("gateway"))
	assert.Equal(t, "huemap-authorit", Title(" Authority "), "clipped to the comm limit")
	assert.Equal(t, "", Title("  "))
	assert.NoError(t, SetRole(""))
}
