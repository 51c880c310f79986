package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"resumebot/internal/bus"
	"resumebot/internal/domain"
	"resumebot/internal/store"
)

func newResumeEngine(t *testing.T, gw domain.RemoteGateway) (*ResumeEngine, *store.SQLiteStore, *bus.InMemoryBus) {
	t.Helper()
	st := testStore(t)
	updates := bus.New(64, testLogger())
	t.Cleanup(updates.Close)
	e := NewResumeEngine(ResumeEngineConfig{
		Store:   st,
		Gateway: gw,
		Bus:     updates,
		Logger:  testLogger(),
	})
	return e, st, updates
}

func awaitResumeUpdate(t *testing.T, updates *bus.InMemoryBus, n int) []domain.Resume {
	t.Helper()
	seen := 0
	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-updates.Subscribe():
			if u.Kind != domain.UpdateResumes {
				continue
			}
			seen++
			if seen == n {
				return u.Resumes
			}
		case <-deadline:
			t.Fatalf("timed out waiting for resume update %d (got %d)", n, seen)
		}
	}
}

func seedResumes(t *testing.T, st *store.SQLiteStore, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if err := st.UpsertResume(context.Background(), domain.Resume{ID: id, Title: id}); err != nil {
			t.Fatal(err)
		}
	}
}

func TestLoadResumes_ReconciliationKeepsLocalOnly(t *testing.T) {
	gw := &fakeGateway{
		resumes: []domain.Resume{
			{ID: "A", Title: "A"},
			{ID: "B", Title: "B"},
		},
	}
	e, st, updates := newResumeEngine(t, gw)
	ctx := context.Background()

	// Local store holds {A, B, C}; the remote listing only {A, B}.
	seedResumes(t, st, "A", "B", "C")

	local := e.Load(ctx)
	if len(local) != 3 {
		t.Fatalf("expected cached {A B C}, got %v", local)
	}

	awaitResumeUpdate(t, updates, 1) // cached snapshot
	remote := awaitResumeUpdate(t, updates, 1)
	if len(remote) != 2 {
		t.Fatalf("published collection should be exactly the remote listing, got %v", remote)
	}

	// C is not published, but a single reconciliation pass must not
	// delete it from the store.
	waitUntil(t, func() bool {
		ids, err := st.ResumeIDs(ctx)
		return err == nil && len(ids) == 3 && ids["C"]
	})

	// The explicit eviction pass is what removes it.
	evicted, err := e.Evict(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(evicted) != 1 || evicted[0] != "C" {
		t.Fatalf("expected [C] evicted, got %v", evicted)
	}
	ids, err := st.ResumeIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids["C"] {
		t.Errorf("expected {A B} after eviction, got %v", ids)
	}
}

func TestEvict_RequiresCompleteListing(t *testing.T) {
	gw := &fakeGateway{listErr: domain.ErrRemoteUnreachable}
	e, st, _ := newResumeEngine(t, gw)
	ctx := context.Background()

	seedResumes(t, st, "A")

	e.Load(ctx)
	time.Sleep(50 * time.Millisecond) // let the failed refresh finish

	if _, err := e.Evict(ctx); !errors.Is(err, ErrNoCompleteListing) {
		t.Fatalf("expected ErrNoCompleteListing, got %v", err)
	}

	ids, err := st.ResumeIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !ids["A"] {
		t.Error("failed listing must never cause eviction")
	}
}

func TestLoadResumes_RemoteFailureKeepsCached(t *testing.T) {
	gw := &fakeGateway{listErr: domain.ErrRemoteRejected}
	e, st, _ := newResumeEngine(t, gw)
	ctx := context.Background()

	seedResumes(t, st, "A", "B")

	local := e.Load(ctx)
	if len(local) != 2 {
		t.Fatalf("expected cached collection, got %v", local)
	}

	time.Sleep(50 * time.Millisecond)
	if got := e.Resumes(); len(got) != 2 {
		t.Fatalf("failed refresh must not clobber the published collection, got %v", got)
	}
}

func TestDeleteResume_RemoteFirst(t *testing.T) {
	gw := &fakeGateway{
		resumes: []domain.Resume{{ID: "A", Title: "A"}},
	}
	e, st, updates := newResumeEngine(t, gw)
	ctx := context.Background()

	seedResumes(t, st, "A")
	e.Load(ctx)
	awaitResumeUpdate(t, updates, 2)
	time.Sleep(50 * time.Millisecond) // let the refresh finish its upserts

	if err := e.Delete(ctx, "A"); err != nil {
		t.Fatal(err)
	}
	if len(gw.deleted) != 1 || gw.deleted[0] != "A" {
		t.Fatalf("expected remote delete of A, got %v", gw.deleted)
	}

	ids, err := st.ResumeIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ids["A"] {
		t.Error("local record should be gone after remote success")
	}
	if got := e.Resumes(); len(got) != 0 {
		t.Errorf("published collection should be empty, got %v", got)
	}
}

func TestDeleteResume_RemoteFailureLeavesEverything(t *testing.T) {
	gw := &fakeGateway{deleteErr: domain.ErrRemoteRejected}
	e, st, _ := newResumeEngine(t, gw)
	ctx := context.Background()

	seedResumes(t, st, "A")
	e.Load(ctx)

	err := e.Delete(ctx, "A")
	if !errors.Is(err, domain.ErrRemoteRejected) {
		t.Fatalf("expected ErrRemoteRejected, got %v", err)
	}

	ids, err2 := st.ResumeIDs(ctx)
	if err2 != nil {
		t.Fatal(err2)
	}
	if !ids["A"] {
		t.Error("failed remote delete must leave the local record")
	}
	found := false
	for _, r := range e.Resumes() {
		if r.ID == "A" {
			found = true
		}
	}
	if !found {
		t.Error("failed remote delete must leave the published entry")
	}
}

func TestDownload_PassesThroughHandle(t *testing.T) {
	gw := &fakeGateway{
		doc: &domain.ResumeDocument{URL: "https://files.example.com/r1.pdf", MimeType: "application/pdf"},
	}
	e, _, _ := newResumeEngine(t, gw)

	doc, err := e.Download(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if doc.URL != "https://files.example.com/r1.pdf" {
		t.Errorf("unexpected handle: %v", doc)
	}
}

func TestDownload_ReportsFailure(t *testing.T) {
	gw := &fakeGateway{docErr: domain.ErrNotFound}
	e, _, _ := newResumeEngine(t, gw)

	if _, err := e.Download(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResumeRefresh_SupersededResultDiscarded(t *testing.T) {
	gw := &fakeGateway{resumes: []domain.Resume{{ID: "A", Title: "A"}}}
	e, _, updates := newResumeEngine(t, gw)
	ctx := context.Background()

	e.Load(ctx)
	awaitResumeUpdate(t, updates, 2)

	current := e.Resumes()

	// A refresh with an outdated generation must not publish.
	e.refresh(ctx, 0)

	if got := e.Resumes(); len(got) != len(current) {
		t.Fatalf("superseded refresh changed the published collection: %v", got)
	}
}
