package chat

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type GraphStore interface {
	SourceInsights(ctx context.Context, sourceIDs []string) (map[string]SourceInsight, error)
}

type Neo4jGraphStore struct {
	driver neo4j.DriverWithContext
}

func NewNeo4jGraphStore(driver neo4j.DriverWithContext) *Neo4jGraphStore {
	return &Neo4jGraphStore{driver: driver}
}

// SourceInsights reports, for each source, how many chunks it contributed
// and which crawled pages link to the page or file it came from.
func (s *Neo4jGraphStore) SourceInsights(ctx context.Context, sourceIDs []string) (map[string]SourceInsight, error) {
	if s.driver == nil {
		return nil, fmt.Errorf("neo4j driver is nil")
	}
	if len(sourceIDs) == 0 {
		return map[string]SourceInsight{}, nil
	}

	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (s:Source)
		WHERE s.id IN $ids
		OPTIONAL MATCH (s)-[:DERIVED_FROM]->(target)
		OPTIONAL MATCH (ref:Page)-[:LINKS_TO|ATTACHES]->(target)
		WITH s, collect(DISTINCT ref.url) AS referrers
		RETURN s.id AS id,
		       s.chunk_count AS chunkCount,
		       [r IN referrers WHERE r IS NOT NULL] AS referrers
	`, map[string]any{"ids": sourceIDs})
	if err != nil {
		return nil, fmt.Errorf("run neo4j insights query: %w", err)
	}

	insights := make(map[string]SourceInsight, len(sourceIDs))
	for result.Next(ctx) {
		record := result.Record()
		id, _ := record.Get("id")
		count, _ := record.Get("chunkCount")
		referrersVal, _ := record.Get("referrers")
		sourceID, ok := id.(string)
		if !ok {
			continue
		}
		chunkCount, _ := toInt(count)

		insights[sourceID] = SourceInsight{
			ChunkCount:    chunkCount,
			ReferrerPages: convertStringSlice(referrersVal),
		}
	}

	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("neo4j insights result error: %w", err)
	}

	return insights, nil
}

var _ GraphStore = (*Neo4jGraphStore)(nil)

func convertStringSlice(value any) []string {
	raw, ok := value.([]any)
	if !ok {
		if v, ok := value.([]string); ok {
			return v
		}
		return nil
	}

	result := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			result = append(result, s)
		}
	}
	return result
}

func toInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
