package pipeline

import (
	"context"
	"testing"

	"github.com/voicewire/gateway/internal/frame"
)

func TestAggregatorSeedsPersonaFirst(t *testing.T) {
	t.Parallel()

	agg := NewContextAggregator("be helpful")
	agg.AppendUser("hello")
	agg.AppendAssistant("hi there")

	turns := agg.Snapshot()
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[0].Role != frame.RoleSystem || turns[0].Content != "be helpful" {
		t.Errorf("first turn %+v, want system persona", turns[0])
	}
	if turns[1].Role != frame.RoleUser || turns[2].Role != frame.RoleAssistant {
		t.Errorf("turn order wrong: %+v", turns[1:])
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	agg := NewContextAggregator("persona")
	agg.AppendUser("one")

	snap := agg.Snapshot()
	agg.AppendUser("two")

	if len(snap) != 2 {
		t.Fatalf("snapshot grew after later append: %d turns", len(snap))
	}
	snap[0].Content = "mutated"
	if agg.Snapshot()[0].Content != "persona" {
		t.Error("mutating a snapshot leaked into the aggregator")
	}
}

func TestUserContextStageCommitsFinalTurns(t *testing.T) {
	t.Parallel()

	agg := NewContextAggregator("persona")
	stage := NewUserContextStage(agg)
	ctx := context.Background()

	// Non-final and empty turns do not commit.
	stage.Process(ctx, frame.TextTurn{Role: frame.RoleUser, Text: "partial"})
	stage.Process(ctx, frame.TextTurn{Role: frame.RoleUser, Text: "", Final: true})
	if agg.Len() != 1 {
		t.Fatalf("aggregator grew on non-final or empty turn: %d", agg.Len())
	}

	stage.Process(ctx, frame.TextTurn{Role: frame.RoleUser, Text: "where is my order", Final: true})
	stage.Process(ctx, frame.SystemNote{Text: "note"})

	turns := agg.Snapshot()
	if len(turns) != 3 {
		t.Fatalf("got %d turns, want 3", len(turns))
	}
	if turns[1].Content != "where is my order" || turns[2].Role != frame.RoleSystem {
		t.Errorf("unexpected turns: %+v", turns[1:])
	}
}

func TestAssistantContextStageBuffersFragments(t *testing.T) {
	t.Parallel()

	agg := NewContextAggregator("persona")
	stage := NewAssistantContextStage(agg)
	ctx := context.Background()

	for _, tok := range []string{"Your ", "order ", "shipped."} {
		stage.Process(ctx, frame.TextTurn{Role: frame.RoleAssistant, Text: tok})
	}
	if agg.Len() != 1 {
		t.Fatal("fragments committed before the final turn")
	}

	// Final turn carries the authoritative full text.
	stage.Process(ctx, frame.TextTurn{Role: frame.RoleAssistant, Text: "Your order shipped.", Final: true})

	turns := agg.Snapshot()
	if len(turns) != 2 || turns[1].Content != "Your order shipped." {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestAssistantContextStageFallsBackToBuffer(t *testing.T) {
	t.Parallel()

	agg := NewContextAggregator("persona")
	stage := NewAssistantContextStage(agg)
	ctx := context.Background()

	stage.Process(ctx, frame.TextTurn{Role: frame.RoleAssistant, Text: "partial answer"})
	// A final turn with no text commits what was streamed.
	stage.Process(ctx, frame.TextTurn{Role: frame.RoleAssistant, Text: "", Final: true})

	turns := agg.Snapshot()
	if len(turns) != 2 || turns[1].Content != "partial answer" {
		t.Fatalf("unexpected turns: %+v", turns)
	}

	// An entirely empty response commits nothing.
	stage.Process(ctx, frame.TextTurn{Role: frame.RoleAssistant, Text: "", Final: true})
	if agg.Len() != 2 {
		t.Errorf("empty response added a turn: %d", agg.Len())
	}
}
