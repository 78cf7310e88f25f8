package sessions

import (
	"math"
	"time"

	"github.com/ggoodman/mcp-vault-server/usage"
)

// ToolCalls aggregates a session's ledger.
type ToolCalls struct {
	Total      int          `json:"total"`
	Successful int          `json:"successful"`
	Failed     int          `json:"failed"`
	ByTool     usage.Ledger `json:"byTool"`
}

// Summary is the redacted view of a session shown to agents.
type Summary struct {
	SessionID       string    `json:"sessionId"`
	ClientName      string    `json:"clientName"`
	ClientVersion   string    `json:"clientVersion"`
	ConnectedAt     string    `json:"connectedAt"`
	LastActiveAt    string    `json:"lastActiveAt"`
	DurationSeconds int64     `json:"durationSeconds"`
	ToolCalls       ToolCalls `json:"toolCalls"`
}

// RedactID keeps the last eight characters of a session id.
func RedactID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[len(id)-8:]
}

// Summaries projects every live session, oldest first.
func (r *Registry) Summaries() []Summary {
	now := r.now()
	live := r.snapshot()
	out := make([]Summary, 0, len(live))
	for _, s := range live {
		stats := s.Stats()
		totals := stats.Totals()
		byTool := stats.Clone()
		out = append(out, Summary{
			SessionID:       RedactID(s.id),
			ClientName:      s.identity.Name,
			ClientVersion:   s.identity.Version,
			ConnectedAt:     s.createdAt.UTC().Format(time.RFC3339Nano),
			LastActiveAt:    s.LastAccess().UTC().Format(time.RFC3339Nano),
			DurationSeconds: int64(math.Round(now.Sub(s.createdAt).Seconds())),
			ToolCalls: ToolCalls{
				Total:      totals.Total,
				Successful: totals.Successful,
				Failed:     totals.Failed,
				ByTool:     byTool,
			},
		})
	}
	return out
}
