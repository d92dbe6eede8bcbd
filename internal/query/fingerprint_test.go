package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFingerprint_StableUnderFieldOrderAndCase(t *testing.T) {
	a := Fingerprint("search", map[string]string{"text": "Disk Full", "extra": "X"}, nil)
	b := Fingerprint("search", map[string]string{"extra": "x", "text": "disk full"}, nil)
	assert.Equal(t, a, b)
}

func TestFingerprint_StableUnderSetOrder(t *testing.T) {
	a := Fingerprint("search_runbooks", nil, map[string][]string{"systems": {"api", "db"}})
	b := Fingerprint("search_runbooks", nil, map[string][]string{"systems": {"DB", "API"}})
	assert.Equal(t, a, b)
}

func TestFingerprint_DiffersByToolKind(t *testing.T) {
	a := Fingerprint("search_runbooks", map[string]string{"x": "1"}, nil)
	b := Fingerprint("search_knowledge_base", map[string]string{"x": "1"}, nil)
	assert.NotEqual(t, a, b)
}

func TestFingerprint_DiffersByContent(t *testing.T) {
	a := Fingerprint("search", map[string]string{"text": "disk full"}, nil)
	b := Fingerprint("search", map[string]string{"text": "disk empty"}, nil)
	assert.NotEqual(t, a, b)
}
