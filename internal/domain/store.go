package domain

import "context"

// Store is the durable on-device cache for messages and resumes.
// Both collections are independent; every write is an atomic upsert or
// delete, there are no cross-row transactions.
type Store interface {
	// UpsertMessage inserts or replaces the message keyed by
	// (ConversationID, ID). Replacing an existing row keeps its
	// insertion sequence so timestamp-tie ordering stays stable.
	UpsertMessage(ctx context.Context, msg Message) error

	// Messages returns the most recent limit messages for the
	// conversation in ascending CreatedAt order, insertion order on
	// ties.
	Messages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	// SetMessageStatus updates the delivery status of one message.
	// A missing row is a no-op.
	SetMessageStatus(ctx context.Context, conversationID, id string, status DeliveryStatus) error

	// ClearMessages deletes every message in the conversation.
	ClearMessages(ctx context.Context, conversationID string) error

	// UpsertResume inserts or replaces the resume keyed by ID.
	// UpdatedAt is stamped with the write time; CreatedAt is kept for
	// existing rows.
	UpsertResume(ctx context.Context, resume Resume) error

	// Resumes returns all cached resumes, most recently updated first.
	Resumes(ctx context.Context) ([]Resume, error)

	// ResumeIDs returns the set of cached resume ids.
	ResumeIDs(ctx context.Context) (map[string]bool, error)

	// DeleteResume removes the resume with the given id. Deleting an
	// absent id is not an error.
	DeleteResume(ctx context.Context, id string) error

	// DeleteResumesExcept removes every cached resume whose id is not
	// in keep and returns the ids that were removed. It backs the
	// explicit eviction pass and must only be run against an id set
	// from a complete remote listing.
	DeleteResumesExcept(ctx context.Context, keep map[string]bool) ([]string, error)

	Close() error
}
