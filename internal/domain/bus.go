package domain

// UpdateKind labels what part of the published state changed.
type UpdateKind string

const (
	UpdateMessages UpdateKind = "messages"
	UpdateResumes  UpdateKind = "resumes"
)

// Update is pushed by a sync engine whenever a published sequence or
// collection changes, so a UI layer can re-render without polling.
type Update struct {
	Kind           UpdateKind
	ConversationID string // set for UpdateMessages
	Messages       []Message
	Resumes        []Resume
}

// UpdateBus carries Updates from the sync engines to subscribers.
type UpdateBus interface {
	Publish(u Update)
	Subscribe() <-chan Update
	Close()
}
