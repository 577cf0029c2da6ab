// internal/journal/journal_test.go
package journal

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndList(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	records := []Attempt{
		{Project: "rivers", Coordinate: "chapters", Attempt: 1, Outcome: OutcomeRetryable, Error: "invalid JSON"},
		{Project: "rivers", Coordinate: "chapters", Attempt: 2, Outcome: OutcomeSucceeded, LatencyMs: 12},
		{Project: "other", Coordinate: "chapters", Attempt: 1, Outcome: OutcomeSucceeded},
	}
	for _, r := range records {
		if err := j.Record(ctx, r); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := j.List(ctx, "rivers", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(got))
	}
	if got[0].Attempt != 1 || got[0].Error != "invalid JSON" || got[1].Outcome != OutcomeSucceeded {
		t.Fatalf("unexpected order or content: %+v", got)
	}
	if got[1].CreatedAt.IsZero() {
		t.Fatal("created_at not set")
	}

	last, err := j.List(ctx, "rivers", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 1 || last[0].Attempt != 2 {
		t.Fatalf("limit should keep the most recent attempt: %+v", last)
	}

	counts, err := j.CountByOutcome(ctx, "rivers")
	if err != nil {
		t.Fatal(err)
	}
	if counts[OutcomeRetryable] != 1 || counts[OutcomeSucceeded] != 1 {
		t.Fatalf("unexpected counts: %v", counts)
	}
}

func TestReopenKeepsRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	ctx := context.Background()

	j, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.Record(ctx, Attempt{Project: "p", Coordinate: "chapter 1", Attempt: 1, Outcome: OutcomeFatal}); err != nil {
		t.Fatal(err)
	}
	j.Close()

	j, err = Open(path)
	if err != nil {
		t.Fatalf("reopen should not re-apply migrations: %v", err)
	}
	defer j.Close()
	got, err := j.List(ctx, "p", 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected persisted record, got %v %v", got, err)
	}
}

func TestNilJournalIsNoop(t *testing.T) {
	var j *Journal
	if err := j.Record(context.Background(), Attempt{}); err != nil {
		t.Fatal(err)
	}
	got, err := j.List(context.Background(), "p", 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("unexpected %v %v", got, err)
	}
}

func TestListRejectsMalformedTimestamp(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempts (project, coordinate, attempt, outcome, created_at) VALUES (?, ?, ?, ?, ?)`,
		"rivers", "chapters", 1, OutcomeSucceeded, "yesterday")
	if err != nil {
		t.Fatal(err)
	}
	_, err = j.List(ctx, "rivers", 0)
	if err == nil || !strings.Contains(err.Error(), "invalid created_at") {
		t.Fatalf("expected created_at error, got %v", err)
	}
}
