package repository

import (
	"context"
	"errors"
	"fmt"

	"docgraph/internal/document/model"
	"docgraph/pkg/apperr"
	"docgraph/pkg/graph"
	"docgraph/pkg/logger"
)

const (
	upsertFolderQuery = `
		MERGE (u:User {email: $userEmail})
		MERGE (d:Document {userEmail: $userEmail, uid: $uid, isFolder: $isFolder})
		MERGE (u)-[:OWNS]->(d)
		SET d.path = $path, d.expanded = $expanded`

	upsertFileQuery = `
		MERGE (u:User {email: $userEmail})
		MERGE (d:Document {userEmail: $userEmail, uid: $uid, isFolder: $isFolder})
		MERGE (u)-[:OWNS]->(d)
		SET d.path = $path, d.content = $content`

	deleteDocumentQuery = `
		MATCH (u:User {email: $userEmail})-[:OWNS]->(d:Document {userEmail: $userEmail, uid: $uid})
		DETACH DELETE d`

	updateUserStateQuery = `
		MATCH (u:User {email: $userEmail})
		SET u.openedDocuments = $openedDocuments,
			u.activeDocument = $activeDocument,
			u.previewDocument = $previewDocument,
			u.exploredDocument = $exploredDocument`

	mergeUserQuery = `
		MERGE (u:User {email: $userEmail})
		RETURN u`

	listDocumentsQuery = `
		MATCH (u:User {email: $userEmail})-[:OWNS]->(d:Document)
		RETURN d`
)

// Opener hands out graph sessions; *graph.Gateway satisfies it.
type Opener interface {
	Open(ctx context.Context) graph.Session
}

// DocumentRepository stores the document tree in the graph database.
type DocumentRepository struct {
	Graph Opener
}

func NewDocumentRepository(g Opener) *DocumentRepository {
	return &DocumentRepository{Graph: g}
}

func (r *DocumentRepository) Open(ctx context.Context) Session {
	return &documentSession{graph: r.Graph.Open(ctx)}
}

type documentSession struct {
	graph graph.Session
}

func (s *documentSession) UpsertEntry(ctx context.Context, userEmail string, entry model.Entry) error {
	params := map[string]any{"userEmail": userEmail}
	var query string
	switch e := entry.(type) {
	case model.Folder:
		query = upsertFolderQuery
		params["uid"] = e.UID
		params["isFolder"] = true
		params["path"] = e.Path
		params["expanded"] = valueOrNil(e.Expanded)
	case model.File:
		query = upsertFileQuery
		params["uid"] = e.UID
		params["isFolder"] = false
		params["path"] = e.Path
		params["content"] = valueOrNil(e.Content)
	default:
		return apperr.Kind(apperr.ErrInvalidInput, errUnsupportedEntry(entry))
	}

	if _, err := s.graph.Run(ctx, query, params); err != nil {
		logger.Sugar.Errorf("Failed to upsert document %d for %s: %v", entry.EntryUID(), userEmail, err)
		return apperr.Kind(apperr.ErrGraph, err)
	}
	return nil
}

func (s *documentSession) DeleteByUID(ctx context.Context, userEmail string, uid int64) error {
	_, err := s.graph.Run(ctx, deleteDocumentQuery, map[string]any{
		"userEmail": userEmail,
		"uid":       uid,
	})
	if err != nil {
		logger.Sugar.Errorf("Failed to delete document %d for %s: %v", uid, userEmail, err)
		return apperr.Kind(apperr.ErrGraph, err)
	}
	return nil
}

func (s *documentSession) UpdateUserState(ctx context.Context, userEmail string, state model.UserState) error {
	params, err := state.Params()
	if err != nil {
		return apperr.Kind(apperr.ErrInvalidInput, err)
	}
	params["userEmail"] = userEmail

	if _, err := s.graph.Run(ctx, updateUserStateQuery, params); err != nil {
		logger.Sugar.Errorf("Failed to update user state for %s: %v", userEmail, err)
		return apperr.Kind(apperr.ErrGraph, err)
	}
	return nil
}

func (s *documentSession) MergeUser(ctx context.Context, userEmail string) (map[string]any, bool, error) {
	res, err := s.graph.Run(ctx, mergeUserQuery, map[string]any{"userEmail": userEmail})
	if err != nil {
		logger.Sugar.Errorf("Failed to merge user %s: %v", userEmail, err)
		return nil, false, apperr.Kind(apperr.ErrGraph, err)
	}
	if len(res.Rows) == 0 {
		return nil, false, apperr.Kind(apperr.ErrGraph, errors.New("merge user returned no rows"))
	}
	props, ok := res.Rows[0]["u"].(map[string]any)
	if !ok {
		return nil, false, apperr.Kind(apperr.ErrGraph, fmt.Errorf("unexpected user value %T", res.Rows[0]["u"]))
	}
	return props, res.NodesCreated > 0, nil
}

func (s *documentSession) ListDocuments(ctx context.Context, userEmail string) ([]map[string]any, error) {
	res, err := s.graph.Run(ctx, listDocumentsQuery, map[string]any{"userEmail": userEmail})
	if err != nil {
		logger.Sugar.Errorf("Failed to list documents for %s: %v", userEmail, err)
		return nil, apperr.Kind(apperr.ErrGraph, err)
	}

	docs := make([]map[string]any, 0, len(res.Rows))
	for _, row := range res.Rows {
		doc, ok := row["d"].(map[string]any)
		if !ok {
			continue
		}
		docs = append(docs, model.StripInternal(doc))
	}
	return docs, nil
}

func (s *documentSession) Close(ctx context.Context) error {
	return s.graph.Close(ctx)
}

func errUnsupportedEntry(entry model.Entry) error {
	return fmt.Errorf("unsupported entry type %T", entry)
}

func valueOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
