package authz

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	t.Parallel()
	assert.True(t, Matches("x*", "xabc"))
	assert.False(t, Matches("x*", "yx"))
	assert.True(t, Matches("exact", "exact"))
	assert.False(t, Matches("exact", "exactly"))
}

func TestMatches_Pure(t *testing.T) {
	t.Parallel()
	// scope_check(client, tool) = scope_check(client, tool): repeated calls
	// with identical inputs must agree.
	for i := 0; i < 10; i++ {
		assert.Equal(t, Matches("gmail:*", "gmail:search"), Matches("gmail:*", "gmail:search"))
	}
}

func TestQualifiedName(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "gmail:search", QualifiedName("gmail", "search"))
}
