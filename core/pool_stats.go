package core

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/searchktools/rpc-server/core/pools"
)

// PoolStats represents statistics for the server's memory pools.
type PoolStats struct {
	Connection ConnectionPoolStats `json:"connection"`
	Ticket     SmartPoolStats      `json:"ticket"`
	BytePool   BytePoolStats       `json:"byte_pool"`
}

type ConnectionPoolStats struct {
	Gets    uint64  `json:"gets"`
	Puts    uint64  `json:"puts"`
	HitRate float64 `json:"hit_rate"`
}

type SmartPoolStats struct {
	Gets    uint64  `json:"gets"`
	Puts    uint64  `json:"puts"`
	HitRate float64 `json:"hit_rate"`
}

type BytePoolStats struct {
	Tiers  []pools.TierStats `json:"tiers"`
	Misses uint64            `json:"oversize_misses"`
}

// GetPoolStats returns statistics for all memory pools.
func (s *Server) GetPoolStats() PoolStats {
	stats := PoolStats{}

	gets, puts, hitRate := s.connPool.Stats()
	stats.Connection = ConnectionPoolStats{
		Gets:    gets,
		Puts:    puts,
		HitRate: hitRate,
	}

	ticketStats := s.ticketPool.Stats()
	stats.Ticket = SmartPoolStats{
		Gets:    ticketStats.Gets,
		Puts:    ticketStats.Puts,
		HitRate: ticketStats.HitRate,
	}

	tiers, misses := s.bytePool.Stats()
	stats.BytePool = BytePoolStats{
		Tiers:  tiers,
		Misses: misses,
	}

	return stats
}

// GetPoolStatsJSON returns pool statistics as a JSON string.
func (s *Server) GetPoolStatsJSON() string {
	stats := s.GetPoolStats()
	data, _ := json.MarshalIndent(stats, "", "  ")
	return string(data)
}

// GetPoolStatsText returns pool statistics as human-readable text.
func (s *Server) GetPoolStatsText() string {
	stats := s.GetPoolStats()
	out := fmt.Sprintf(`Memory Pool Statistics
======================

Connection Pool:
  Gets:     %d
  Puts:     %d
  Hit Rate: %.2f%%

Ticket Pool:
  Gets:     %d
  Puts:     %d
  Hit Rate: %.2f%%

Byte Pool:
`,
		stats.Connection.Gets, stats.Connection.Puts, stats.Connection.HitRate*100,
		stats.Ticket.Gets, stats.Ticket.Puts, stats.Ticket.HitRate*100,
	)
	for _, tier := range stats.BytePool.Tiers {
		out += fmt.Sprintf("  %6dB: %d gets, %d puts\n", tier.Size, tier.Gets, tier.Puts)
	}
	out += fmt.Sprintf("  Oversize allocations: %d\n", stats.BytePool.Misses)
	return out
}
