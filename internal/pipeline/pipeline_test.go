package pipeline

import (
	"context"
	"testing"
)

func TestAdvanceOnSignedMovesForwardOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	moved, err := m.AdvanceOnSigned(ctx, 1, "seller")
	if err != nil || !moved {
		t.Fatalf("first advance: moved=%v err=%v", moved, err)
	}
	if s, _ := m.StageOf(1); s != StageSellerSigned {
		t.Fatalf("stage = %+v", s)
	}

	// A lower-order stage never rolls the lead back.
	moved, err = m.AdvanceOnSigned(ctx, 1, "buyer")
	if err != nil || moved {
		t.Fatalf("backward advance must be a no-op: moved=%v err=%v", moved, err)
	}
	if s, _ := m.StageOf(1); s != StageSellerSigned {
		t.Fatalf("stage rolled back: %+v", s)
	}

	moved, _ = m.AdvanceOnSigned(ctx, 1, "lawyer")
	if !moved {
		t.Fatal("forward advance expected")
	}
}

func TestAdvanceOnSignedUnknownType(t *testing.T) {
	m := NewMemory()
	moved, err := m.AdvanceOnSigned(context.Background(), 2, "")
	if err != nil || moved {
		t.Fatalf("unknown contract type must be a no-op: moved=%v err=%v", moved, err)
	}
}
