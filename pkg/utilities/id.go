package utilities

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

var (
	nodeOnce sync.Once
	node     *snowflake.Node
)

// NewKSUID generates a new globally unique KSUID string.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSessionTag builds the tag recorded next to an acting user id.
func NewSessionTag(userID int64) string {
	return fmt.Sprintf("session_%d_%s", userID, NewKSUID())
}

// NewRequestID returns a snowflake id from the node configured by
// SNOWFLAKE_NODE (default 1). Falls back to a KSUID if the node is invalid.
func NewRequestID() string {
	nodeOnce.Do(func() {
		n, err := snowflake.NewNode(int64(GetIntEnv("SNOWFLAKE_NODE", 1)))
		if err == nil {
			node = n
		}
	})
	if node == nil {
		return NewKSUID()
	}
	return node.Generate().String()
}
