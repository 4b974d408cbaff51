package gen

import (
	"fmt"

	"britepool/pkg/config"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("gen", fx.Provide(NewSnowflakeNode))

type SnowflakeNode struct {
	node *snowflake.Node
}

func NewSnowflakeNode(cfg *config.Config) (*SnowflakeNode, error) {
	var nodeID int64 = 1
	if cfg != nil {
		nodeID = cfg.NodeID
	}
	return NewNode(nodeID)
}

func NewNode(nodeID int64) (*SnowflakeNode, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("init snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeNode{node: node}, nil
}

func (s *SnowflakeNode) GenerateID() snowflake.ID {
	return s.node.Generate()
}

func (s *SnowflakeNode) NextID() string {
	return s.node.Generate().String()
}
