package redis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsInvalidURL(t *testing.T) {
	c, err := New(context.Background(), "://not-a-url", "")
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Contains(t, err.Error(), "redis parse url")
}
