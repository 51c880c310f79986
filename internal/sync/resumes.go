package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"resumebot/internal/domain"
)

// ErrNoCompleteListing is returned by Evict when no complete remote
// listing has been observed yet. Eviction diffs against the last such
// listing; running it blind could drop resumes the remote still has.
var ErrNoCompleteListing = errors.New("no complete remote listing yet")

// ResumeEngine keeps the saved-resume collection converging between the
// local store and the remote service. The remote listing is
// authoritative for membership, but a single reconciliation pass never
// deletes local rows: eviction is a separate, explicitly invoked pass.
type ResumeEngine struct {
	store   domain.Store
	gateway domain.RemoteGateway
	bus     domain.UpdateBus
	logger  *slog.Logger

	mu           sync.Mutex
	published    []domain.Resume
	gen          uint64
	lastComplete map[string]bool // id set of the last complete remote listing
}

type ResumeEngineConfig struct {
	Store   domain.Store
	Gateway domain.RemoteGateway
	Bus     domain.UpdateBus
	Logger  *slog.Logger
}

func NewResumeEngine(cfg ResumeEngineConfig) *ResumeEngine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &ResumeEngine{
		store:   cfg.Store,
		gateway: cfg.Gateway,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
	}
}

// Load publishes the cached collection immediately and refreshes it
// from the remote listing in the background. The returned slice is the
// local snapshot; the refreshed collection arrives on the update bus.
func (e *ResumeEngine) Load(ctx context.Context) []domain.Resume {
	local, err := e.store.Resumes(ctx)
	if err != nil {
		e.logger.Error("loading cached resumes failed", "err", err)
		local = nil
	}

	e.mu.Lock()
	e.gen++
	gen := e.gen
	e.published = local
	e.mu.Unlock()
	e.notify()

	go e.refresh(ctx, gen)

	return append([]domain.Resume(nil), local...)
}

// refresh replaces the published collection with the remote listing and
// upserts every listed resume into the store. Resumes the listing no
// longer contains stay in the store until an explicit Evict.
func (e *ResumeEngine) refresh(ctx context.Context, gen uint64) {
	remote, err := e.gateway.ListResumes(ctx)
	if err != nil {
		e.logger.Warn("resume refresh failed, keeping cached collection", "err", err)
		return
	}

	ids := make(map[string]bool, len(remote))
	for _, r := range remote {
		ids[r.ID] = true
	}

	e.mu.Lock()
	if e.gen != gen {
		e.mu.Unlock()
		e.logger.Debug("discarding superseded resume refresh")
		return
	}
	e.published = remote
	e.lastComplete = ids
	e.mu.Unlock()
	e.notify()

	for _, r := range remote {
		if err := e.store.UpsertResume(ctx, r); err != nil {
			e.logger.Warn("caching fetched resume failed", "id", r.ID, "err", err)
		}
	}
}

// Evict deletes every cached resume absent from the last complete
// remote listing and returns the evicted ids. It refuses to run before
// a listing has been observed.
func (e *ResumeEngine) Evict(ctx context.Context) ([]string, error) {
	e.mu.Lock()
	keep := e.lastComplete
	e.mu.Unlock()
	if keep == nil {
		return nil, ErrNoCompleteListing
	}
	evicted, err := e.store.DeleteResumesExcept(ctx, keep)
	if err != nil {
		return nil, fmt.Errorf("evict resumes: %w", err)
	}
	return evicted, nil
}

// Download fetches an exportable document handle for the resume.
// Failures are reported to the caller, not retried here.
func (e *ResumeEngine) Download(ctx context.Context, id string) (*domain.ResumeDocument, error) {
	doc, err := e.gateway.FetchResumeDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("download resume %s: %w", id, err)
	}
	return doc, nil
}

// Delete removes the resume remotely first; only after remote success
// is the local record dropped. A failed remote delete leaves both
// stores untouched so the cache cannot diverge to "deleted" while the
// remote service still has the record.
func (e *ResumeEngine) Delete(ctx context.Context, id string) error {
	if err := e.gateway.DeleteResume(ctx, id); err != nil {
		return fmt.Errorf("delete resume %s: %w", id, err)
	}
	if err := e.store.DeleteResume(ctx, id); err != nil {
		// Remote accepted the delete; the stale local row will be
		// removed by the next eviction pass.
		e.logger.Warn("local resume delete failed", "id", id, "err", err)
	}

	e.mu.Lock()
	kept := e.published[:0:0]
	for _, r := range e.published {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	e.published = kept
	if e.lastComplete != nil {
		delete(e.lastComplete, id)
	}
	e.mu.Unlock()
	e.notify()
	return nil
}

// Resumes returns the currently published collection for display.
func (e *ResumeEngine) Resumes() []domain.Resume {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Resume(nil), e.published...)
}

func (e *ResumeEngine) notify() {
	if e.bus == nil {
		return
	}
	e.mu.Lock()
	snapshot := append([]domain.Resume(nil), e.published...)
	e.mu.Unlock()
	e.bus.Publish(domain.Update{
		Kind:    domain.UpdateResumes,
		Resumes: snapshot,
	})
}
