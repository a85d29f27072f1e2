package gen

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("gen", fx.Provide(NewSnowflakeNode))

// NewSnowflakeNode returns the ID generator for update log IDs. A single
// updater runs per host, so node 1 is enough.
func NewSnowflakeNode() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	if err != nil {
		zap.L().Error("failed to init snowflake node", zap.Error(err))
		return nil, err
	}
	return node, nil
}
