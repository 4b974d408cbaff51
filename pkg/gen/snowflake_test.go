package gen

import (
	"testing"

	"britepool/pkg/config"

	"github.com/stretchr/testify/require"
)

func TestNextIDIncreasing(t *testing.T) {
	cfg := &config.Config{NodeID: 3}
	n, err := NewSnowflakeNode(cfg)
	require.NoError(t, err)

	a, b := n.GenerateID(), n.GenerateID()
	require.Less(t, a.Int64(), b.Int64())
	require.Equal(t, int64(3), b.Node())
	require.NotEqual(t, n.NextID(), n.NextID())
}

func TestNewNodeRejectsOutOfRange(t *testing.T) {
	_, err := NewNode(4096)
	require.Error(t, err)
}
