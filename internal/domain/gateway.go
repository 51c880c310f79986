package domain

import "context"

// RemoteGateway is the narrow interface to the remote bot backend. The
// backend is authoritative; the gateway owns no local state. Every call
// is bounded by a timeout and reports failure as an error, never a
// partial result.
type RemoteGateway interface {
	// FetchHistory returns the conversation's full chat history in the
	// remote service's own order.
	FetchHistory(ctx context.Context, conversationID string) ([]Message, error)

	// SendMessage delivers a user message and returns the service's
	// response. Reply is nil when the service accepted the message
	// without sending a bot reply.
	SendMessage(ctx context.Context, conversationID, text string) (*RemoteReply, error)

	// ListResumes returns the authoritative resume collection.
	ListResumes(ctx context.Context) ([]Resume, error)

	// FetchResumeDocument asks the service to render the resume into an
	// exportable document and returns its handle.
	FetchResumeDocument(ctx context.Context, id string) (*ResumeDocument, error)

	// DeleteResume removes the resume remotely. An id the service no
	// longer knows is treated as success.
	DeleteResume(ctx context.Context, id string) error
}

// RemoteReply is the outcome of a send round trip. The bot reply, when
// present, carries the id and timestamp assigned by the remote service.
type RemoteReply struct {
	Reply *Message
}
