package retrieval

import (
	"testing"
	"time"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

func TestRankOrdersByScore(t *testing.T) {
	ranker := NewRanker(4)

	candidates := []memory.Example{
		{ID: "ex-orders", Question: "total revenue per region last quarter"},
		{ID: "ex-users", Question: "show active users"},
		{ID: "ex-signups", Question: "count signups this week"},
	}

	ranked := ranker.Rank("show me active users", candidates)
	if len(ranked) != 3 {
		t.Fatalf("len(ranked) = %d, want 3", len(ranked))
	}
	if ranked[0].Example.ID != "ex-users" {
		t.Fatalf("top result = %s, want ex-users", ranked[0].Example.ID)
	}
	if ranked[0].Score != 1 {
		t.Fatalf("top score = %v, want 1", ranked[0].Score)
	}
}

func TestRankBreaksScoreTiesByUsage(t *testing.T) {
	ranker := NewRanker(1)

	candidates := []memory.Example{
		{ID: "ex-b", Question: "show active users", UsageCount: 2},
		{ID: "ex-a", Question: "show active users", UsageCount: 9},
	}

	ranked := ranker.Rank("show active users", candidates)
	if len(ranked) != 1 {
		t.Fatalf("len(ranked) = %d, want 1", len(ranked))
	}
	if ranked[0].Example.ID != "ex-a" {
		t.Fatalf("top result = %s, want ex-a (higher usage)", ranked[0].Example.ID)
	}
}

func TestRankBreaksUsageTiesByRecency(t *testing.T) {
	ranker := NewRanker(2)
	recent := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	older := recent.Add(-48 * time.Hour)

	candidates := []memory.Example{
		{ID: "ex-old", Question: "list pending orders", UsageCount: 5, LastUsedAt: &older},
		{ID: "ex-new", Question: "list pending orders", UsageCount: 5, LastUsedAt: &recent},
		{ID: "ex-never", Question: "list pending orders", UsageCount: 5},
	}

	ranked := ranker.Rank("list pending orders", candidates)
	if ranked[0].Example.ID != "ex-new" {
		t.Fatalf("ranked[0] = %s, want ex-new", ranked[0].Example.ID)
	}
	if ranked[1].Example.ID != "ex-old" {
		t.Fatalf("ranked[1] = %s, want ex-old (never-used sorts last)", ranked[1].Example.ID)
	}
}

func TestRankIsDeterministicOnFullTies(t *testing.T) {
	ranker := NewRanker(3)
	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	candidates := []memory.Example{
		{ID: "ex-c", Question: "same question", CreatedAt: created},
		{ID: "ex-a", Question: "same question", CreatedAt: created},
		{ID: "ex-b", Question: "same question", CreatedAt: created},
	}

	for i := 0; i < 5; i++ {
		ranked := ranker.Rank("same question", candidates)
		if ranked[0].Example.ID != "ex-a" || ranked[1].Example.ID != "ex-b" || ranked[2].Example.ID != "ex-c" {
			t.Fatalf("unstable order: %s, %s, %s", ranked[0].Example.ID, ranked[1].Example.ID, ranked[2].Example.ID)
		}
	}
}

func TestRankKeepsZeroScoreCandidates(t *testing.T) {
	ranker := NewRanker(4)

	candidates := []memory.Example{
		{ID: "ex-unrelated", Question: "inventory levels by warehouse"},
	}

	ranked := ranker.Rank("show active users", candidates)
	if len(ranked) != 1 {
		t.Fatalf("len(ranked) = %d, want 1 (zero-score kept)", len(ranked))
	}
	if ranked[0].Score != 0 {
		t.Fatalf("score = %v, want 0", ranked[0].Score)
	}
}

func TestRankTruncatesToTopK(t *testing.T) {
	ranker := NewRanker(2)

	candidates := []memory.Example{
		{ID: "ex-1", Question: "show active users"},
		{ID: "ex-2", Question: "show users"},
		{ID: "ex-3", Question: "active users by role"},
	}

	ranked := ranker.Rank("show active users", candidates)
	if len(ranked) != 2 {
		t.Fatalf("len(ranked) = %d, want 2", len(ranked))
	}
}

func TestTokenizeNormalizesCaseAndPunctuation(t *testing.T) {
	tokens := tokenize("Show ACTIVE users, please!")
	want := []string{"show", "active", "users", "please"}
	if len(tokens) != len(want) {
		t.Fatalf("len(tokens) = %d, want %d", len(tokens), len(want))
	}
	for _, token := range want {
		if _, ok := tokens[token]; !ok {
			t.Fatalf("missing token %q", token)
		}
	}
}
