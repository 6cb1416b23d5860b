package shellvar

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetGetAndClear(t *testing.T) {
	s := New()
	s.Set("IPADD", "10.0.0.5")
	v, ok := s.Get("IPADD")
	assert.True(t, ok)
	assert.Equal(t, "10.0.0.5", v)

	s.Set("IPADD", "")
	_, ok = s.Get("IPADD")
	assert.False(t, ok)
}

func TestGetOrFallback(t *testing.T) {
	s := New()
	assert.Equal(t, "default", s.GetOr("NOPE", "default"))
	s.Set("NOPE", "here")
	assert.Equal(t, "here", s.GetOr("NOPE", "default"))
}

func TestExpandBracedAndBare(t *testing.T) {
	s := New()
	s.Set("X", "1")
	s.Set("Y", "2")
	assert.Equal(t, "1 and 2", s.Expand("$X and ${Y}"))
	assert.Equal(t, "a$ b", s.Expand("a$ b"))
}

func TestEnvironIsSorted(t *testing.T) {
	s := New()
	s.Set("B", "2")
	s.Set("A", "1")
	env := s.Environ()
	// defaults also present; just check relative order of A and B
	idxA, idxB := -1, -1
	for i, e := range env {
		if e == "A=1" {
			idxA = i
		}
		if e == "B=2" {
			idxB = i
		}
	}
	assert.True(t, idxA < idxB)
}
