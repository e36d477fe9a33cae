package switcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLineBufferFIFO(t *testing.T) {
	b := newLineBuffer(3)

	b.push("a")
	b.push("b")
	assert.Equal(t, 2, b.len())
	assert.Equal(t, []string{"a", "b"}, b.recent(5))
}

func TestLineBufferOverflow(t *testing.T) {
	b := newLineBuffer(3)

	b.push("a")
	b.push("b")
	b.push("c")
	b.push("d")

	assert.Equal(t, 3, b.len())
	assert.Equal(t, []string{"b", "c", "d"}, b.recent(3))
	assert.Equal(t, []string{"c", "d"}, b.recent(2))
}

func TestLineBufferClear(t *testing.T) {
	b := newLineBuffer(3)
	b.push("a")
	b.clear()

	assert.Equal(t, 0, b.len())
	assert.Nil(t, b.recent(3))
}
