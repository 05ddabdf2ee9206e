package repository

import (
	"context"

	"docgraph/internal/document/model"
)

// Repository opens one Session per request.
type Repository interface {
	Open(ctx context.Context) Session
}

// Session runs the document queries of a single request. Close must be
// called on every path and may be called more than once.
type Session interface {
	UpsertEntry(ctx context.Context, userEmail string, entry model.Entry) error
	DeleteByUID(ctx context.Context, userEmail string, uid int64) error
	UpdateUserState(ctx context.Context, userEmail string, state model.UserState) error
	// MergeUser returns the user's properties, creating the node when absent.
	MergeUser(ctx context.Context, userEmail string) (props map[string]any, created bool, err error)
	// ListDocuments returns the owned documents with the internal scoping field removed.
	ListDocuments(ctx context.Context, userEmail string) ([]map[string]any, error)
	Close(ctx context.Context) error
}
