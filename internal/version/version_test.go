package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	v, c, d := Info()
	s := String()
	assert.Contains(t, s, v)
	assert.Contains(t, s, c)
	assert.Contains(t, s, d)
}
