package pattern

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassRegistry(t *testing.T) {
	r := NewClassRegistry()
	assert.True(t, r.Has("privilege"))
	assert.True(t, r.Has("@shell"))
	assert.False(t, r.Has("nope"))

	members, err := r.Get("process")
	require.NoError(t, err)
	assert.Contains(t, members, "kill")

	// returned slice is a copy
	members[0] = "changed"
	again, _ := r.Get("process")
	assert.NotEqual(t, "changed", again[0])

	r.Extend("custom", []string{"deploy"})
	c, err := CompileWithClasses("@custom prod", r)
	require.NoError(t, err)
	assert.True(t, c.Match([]string{"deploy", "prod"}))
	assert.False(t, c.Match([]string{"deploy", "staging"}))

	assert.Contains(t, r.List(), "custom")
	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestBuiltinClasses_NotMutatedByRegistry(t *testing.T) {
	r := NewClassRegistry()
	r.Extend("privilege", []string{"become"})
	assert.NotContains(t, BuiltinClasses["privilege"], "become")
}
