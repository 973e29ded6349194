package encode

import (
	"testing"

	"github.com/asticode/go-astiav"
	"github.com/stretchr/testify/assert"
)

func TestCopierVideoWaitsForKeyframe(t *testing.T) {
	c := NewCopier(0, astiav.Rational{}, astiav.Rational{}, true)

	assert.False(t, c.Accept(false), "pre-keyframe packet must be discarded")
	assert.False(t, c.Accept(false))
	assert.True(t, c.Accept(true), "first keyframe opens the gate")
	assert.True(t, c.Accept(false), "later delta packets pass once the gate is open")
}

func TestCopierAudioPassesImmediately(t *testing.T) {
	c := NewCopier(1, astiav.Rational{}, astiav.Rational{}, false)

	assert.True(t, c.Accept(false), "audio has no keyframe gate")
}

func TestCopierResyncReArmsKeyframeGate(t *testing.T) {
	c := NewCopier(0, astiav.Rational{}, astiav.Rational{}, true)

	assert.True(t, c.Accept(true))
	assert.True(t, c.Accept(false))

	c.Resync()

	assert.False(t, c.Accept(false), "after resync, delta packets are discarded again")
	assert.True(t, c.Accept(true))
	assert.True(t, c.Accept(false))
}
