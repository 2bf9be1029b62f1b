package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConstant(t *testing.T) {
	s := Constant(time.Second)
	for i := uint(1); i < 10; i++ {
		assert.Equal(t, time.Second, s(i))
	}
}

func TestLinear(t *testing.T) {
	s := Linear(time.Second)
	for i := uint(1); i < 10; i++ {
		assert.Equal(t, time.Duration(i)*time.Second, s(i))
	}
}

func TestExponential(t *testing.T) {
	s := Exponential(time.Second, 3)

	expected := time.Second
	for i := uint(1); i < 5; i++ {
		assert.Equal(t, expected, s(i))
		expected *= 3
	}
}

func TestBinaryExponential(t *testing.T) {
	s := BinaryExponential(time.Second)

	expected := time.Second
	for i := uint(1); i < 10; i++ {
		assert.Equal(t, expected, s(i))
		expected *= 2
	}
}
