package service

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
)

// Sequencer hands out message sequence numbers, strictly increasing per node.
type Sequencer interface {
	Next() int64
}

// SnowflakeSequencer issues time-ordered ids; nodeID must differ per instance.
type SnowflakeSequencer struct {
	node *snowflake.Node
}

func NewSnowflakeSequencer(nodeID int64) (*SnowflakeSequencer, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeSequencer{node: node}, nil
}

func (s *SnowflakeSequencer) Next() int64 {
	return s.node.Generate().Int64()
}
