package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/leonardcser/hotcache/internal/cache"
)

// StatsSource reports hot tier statistics.
type StatsSource interface {
	Stats() cache.Stats
}

// CacheStatsHandler returns the MCP tool handler for the "cache-stats" tool.
func CacheStatsHandler(src StatsSource) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcp.NewToolResultText(formatStats(src.Stats())), nil
	}
}

func formatStats(s cache.Stats) string {
	ratio := 0.0
	if total := s.Hits + s.Misses; total > 0 {
		ratio = float64(s.Hits) / float64(total)
	}
	return fmt.Sprintf("entries: %d/%d\nhits: %d\nmisses: %d\nhit ratio: %.2f\nevictions: %d",
		s.Len, s.Capacity, s.Hits, s.Misses, ratio, s.Evictions)
}
