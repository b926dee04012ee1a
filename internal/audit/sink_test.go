package audit

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"gatekeep/internal/schema"
)

func TestMemorySink_RecordAndRecent(t *testing.T) {
	sink := NewMemorySink()
	ctx := context.Background()

	var last uuid.UUID
	for i := 0; i < 5; i++ {
		v := &schema.Verdict{
			VerdictID: uuid.New(),
			Subject:   schema.Subject{Key: "ip:203.0.113.9"},
			Action:    schema.ActionAllow,
		}
		last = v.VerdictID
		if err := sink.Record(ctx, v); err != nil {
			t.Fatalf("Record() error: %v", err)
		}
	}

	if sink.Total() != 5 {
		t.Errorf("total = %d, want 5", sink.Total())
	}

	recent := sink.Recent(3)
	if len(recent) != 3 {
		t.Fatalf("got %d recent verdicts, want 3", len(recent))
	}
	if recent[0].VerdictID != last {
		t.Errorf("newest verdict = %s, want %s", recent[0].VerdictID, last)
	}
}

func TestMemorySink_RecentMoreThanStored(t *testing.T) {
	sink := NewMemorySink()
	sink.Record(context.Background(), &schema.Verdict{VerdictID: uuid.New()})

	if got := sink.Recent(10); len(got) != 1 {
		t.Errorf("got %d verdicts, want 1", len(got))
	}
}

func TestMemorySink_EmptyRecent(t *testing.T) {
	sink := NewMemorySink()
	if got := sink.Recent(5); len(got) != 0 {
		t.Errorf("got %d verdicts from empty sink", len(got))
	}
}
