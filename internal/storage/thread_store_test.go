package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/lakeview-ai/lakeview/internal/results"
	"github.com/lakeview-ai/lakeview/internal/thread"
)

func newTestStore(t *testing.T) *LibsqlThreadStore {
	t.Helper()
	s, err := NewThreadStore(filepath.Join(t.TempDir(), "threads.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateThreadDeduplicatesTitles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateThread(ctx, "ds-1", "Sales")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if first.Title != "Sales" {
		t.Errorf("first title = %q", first.Title)
	}

	second, err := s.CreateThread(ctx, "ds-1", "Sales")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if second.Title != "Sales (1)" {
		t.Errorf("second title = %q, want \"Sales (1)\"", second.Title)
	}

	t.Run("case insensitive", func(t *testing.T) {
		third, err := s.CreateThread(ctx, "ds-1", "sales")
		if err != nil {
			t.Fatalf("CreateThread failed: %v", err)
		}
		if third.Title != "sales (2)" {
			t.Errorf("third title = %q, want \"sales (2)\"", third.Title)
		}
	})

	t.Run("other data source is a separate namespace", func(t *testing.T) {
		other, err := s.CreateThread(ctx, "ds-2", "Sales")
		if err != nil {
			t.Fatalf("CreateThread failed: %v", err)
		}
		if other.Title != "Sales" {
			t.Errorf("title = %q, want unsuffixed", other.Title)
		}
	})
}

func TestSaveAndLoadThreads(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	items := []results.Item{{ID: "i1", Type: results.TypeInsight, Data: "sales are up"}}
	in := thread.Thread{
		ID:        "t1",
		Title:     "Quarterly review",
		CreatedAt: 1700000000,
		Messages: []thread.Message{
			{ID: "m1", Role: thread.RoleUser, Content: "how did Q3 go?", Timestamp: 1700000001},
			{ID: "m2", Role: thread.RoleAssistant, Content: "quite well", Timestamp: 1700000002,
				ResultRef: "ref-1", AnalysisResults: items},
		},
		Files: []thread.File{
			{Name: "report.xlsx", Path: "/tmp/report.xlsx", Type: "xlsx", Size: 1024, CreatedAt: 1700000003, MessageID: "m2"},
		},
	}
	if err := s.SaveThreads(ctx, []thread.Thread{in}); err != nil {
		t.Fatalf("SaveThreads failed: %v", err)
	}

	t.Run("LoadThreads strips payloads but keeps the flag", func(t *testing.T) {
		threads, err := s.LoadThreads(ctx)
		if err != nil {
			t.Fatalf("LoadThreads failed: %v", err)
		}
		if len(threads) != 1 {
			t.Fatalf("expected 1 thread, got %d", len(threads))
		}
		got := threads[0]
		if len(got.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(got.Messages))
		}
		m2 := got.Messages[1]
		if !m2.HasAnalysisData {
			t.Error("HasAnalysisData must survive stripping")
		}
		if len(m2.AnalysisResults) != 0 {
			t.Error("stripped load must not carry result payloads")
		}
		if m2.ResultRef != "ref-1" {
			t.Errorf("result ref = %q", m2.ResultRef)
		}
		if len(got.Files) != 1 || got.Files[0].Name != "report.xlsx" {
			t.Errorf("unexpected files: %+v", got.Files)
		}
	})

	t.Run("LoadThread carries full payloads", func(t *testing.T) {
		got, err := s.LoadThread(ctx, "t1")
		if err != nil {
			t.Fatalf("LoadThread failed: %v", err)
		}
		if len(got.Messages) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(got.Messages))
		}
		rs := got.Messages[1].AnalysisResults
		if len(rs) != 1 || rs[0].ID != "i1" || rs[0].Type != results.TypeInsight {
			t.Fatalf("unexpected analysis results: %+v", rs)
		}
	})
}

func TestSaveThreadsPreservesStrippedAnalysisResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := thread.Thread{
		ID: "t1", Title: "with data", CreatedAt: 1,
		Messages: []thread.Message{
			{ID: "m1", Role: thread.RoleAssistant, Content: "done", Timestamp: 2,
				AnalysisResults: []results.Item{{ID: "i1", Type: results.TypeInsight, Data: "x"}}},
		},
	}
	if err := s.SaveThreads(ctx, []thread.Thread{in}); err != nil {
		t.Fatalf("SaveThreads failed: %v", err)
	}

	// The reconciler re-saves threads loaded in stripped form; the
	// persisted payload must survive the round trip.
	stripped, err := s.LoadThreads(ctx)
	if err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}
	stripped[0].Messages = append(stripped[0].Messages,
		thread.Message{ID: "m2", Role: thread.RoleUser, Content: "more", Timestamp: 3})
	if err := s.SaveThreads(ctx, stripped); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}

	got, err := s.LoadThread(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadThread failed: %v", err)
	}
	if len(got.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(got.Messages))
	}
	if len(got.Messages[0].AnalysisResults) != 1 {
		t.Fatal("analysis payload lost on stripped re-save")
	}
}

func TestUpdateTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.CreateThread(ctx, "ds-1", "First")
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if _, err := s.CreateThread(ctx, "ds-1", "Taken"); err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}

	applied, err := s.UpdateTitle(ctx, a.ID, "Taken")
	if err != nil {
		t.Fatalf("UpdateTitle failed: %v", err)
	}
	if applied != "Taken (1)" {
		t.Errorf("applied title = %q, want \"Taken (1)\"", applied)
	}

	t.Run("renaming to own title keeps it unsuffixed", func(t *testing.T) {
		applied, err := s.UpdateTitle(ctx, a.ID, "Taken (1)")
		if err != nil {
			t.Fatalf("UpdateTitle failed: %v", err)
		}
		if applied != "Taken (1)" {
			t.Errorf("applied title = %q", applied)
		}
	})

	t.Run("missing thread", func(t *testing.T) {
		if _, err := s.UpdateTitle(ctx, "nope", "x"); err == nil {
			t.Fatal("expected an error for a missing thread")
		}
	})
}

func TestAnalysisResultsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := thread.Thread{
		ID: "t1", Title: "x", CreatedAt: 1,
		Messages: []thread.Message{{ID: "m1", Role: thread.RoleUser, Content: "q", Timestamp: 2}},
	}
	if err := s.SaveThreads(ctx, []thread.Thread{in}); err != nil {
		t.Fatalf("SaveThreads failed: %v", err)
	}

	t.Run("no items yet", func(t *testing.T) {
		items, err := s.AnalysisResults(ctx, "t1", "m1")
		if err != nil {
			t.Fatalf("AnalysisResults failed: %v", err)
		}
		if items != nil {
			t.Fatalf("expected nil items, got %+v", items)
		}
	})

	items := []results.Item{
		{ID: "i1", Type: results.TypeMetric, Data: map[string]any{"title": "Revenue", "value": "42"}},
	}
	if err := s.SaveAnalysisResults(ctx, "t1", "m1", items); err != nil {
		t.Fatalf("SaveAnalysisResults failed: %v", err)
	}

	got, err := s.AnalysisResults(ctx, "t1", "m1")
	if err != nil {
		t.Fatalf("AnalysisResults failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "i1" || got[0].Type != results.TypeMetric {
		t.Fatalf("unexpected items: %+v", got)
	}

	t.Run("missing message", func(t *testing.T) {
		if err := s.SaveAnalysisResults(ctx, "t1", "nope", items); err == nil {
			t.Fatal("expected an error for a missing message")
		}
	})
}

func TestDeleteThreadCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := thread.Thread{
		ID: "t1", Title: "doomed", CreatedAt: 1,
		Messages: []thread.Message{{ID: "m1", Role: thread.RoleUser, Content: "q", Timestamp: 2}},
		Files:    []thread.File{{Name: "f", Path: "/f", Type: "csv", CreatedAt: 3}},
	}
	if err := s.SaveThreads(ctx, []thread.Thread{in}); err != nil {
		t.Fatalf("SaveThreads failed: %v", err)
	}

	if err := s.DeleteThread(ctx, "t1"); err != nil {
		t.Fatalf("DeleteThread failed: %v", err)
	}

	threads, err := s.LoadThreads(ctx)
	if err != nil {
		t.Fatalf("LoadThreads failed: %v", err)
	}
	if len(threads) != 0 {
		t.Fatalf("expected no threads, got %d", len(threads))
	}
	if _, err := s.AnalysisResults(ctx, "t1", "m1"); err == nil {
		t.Fatal("expected cascade to remove the message")
	}
}
