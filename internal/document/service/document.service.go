package service

import (
	"context"
	"fmt"

	"docgraph/internal/document/model"
	"docgraph/internal/document/repository"
	"docgraph/pkg/logger"
	"docgraph/socket"
)

// Publisher pushes change events to a user's open connections.
type Publisher interface {
	Publish(userEmail, eventType string, payload any)
}

type DocumentService struct {
	Repo repository.Repository
	Feed Publisher
}

func NewDocumentService(repo repository.Repository, feed Publisher) *DocumentService {
	return &DocumentService{Repo: repo, Feed: feed}
}

// EditFile upserts a single folder or file.
func (s *DocumentService) EditFile(ctx context.Context, userEmail string, d model.Descriptor) error {
	sess := s.Repo.Open(ctx)
	defer release(ctx, sess)

	if err := sess.UpsertEntry(ctx, userEmail, d.Entry()); err != nil {
		return err
	}
	s.publish(userEmail, socket.DocumentsUpdateType, socket.DocumentsPayload{UIDs: []int64{d.UID}})
	return nil
}

// EditMany upserts the descriptors one after another on a single session.
// It is not atomic: on failure the earlier writes stay committed and the
// remaining descriptors are skipped.
func (s *DocumentService) EditMany(ctx context.Context, userEmail string, docs []model.Descriptor) error {
	sess := s.Repo.Open(ctx)
	defer release(ctx, sess)

	written := make([]int64, 0, len(docs))
	var err error
	for i, d := range docs {
		if err = sess.UpsertEntry(ctx, userEmail, d.Entry()); err != nil {
			err = fmt.Errorf("document %d of %d (uid %d): %w", i+1, len(docs), d.UID, err)
			break
		}
		written = append(written, d.UID)
	}
	if len(written) > 0 {
		s.publish(userEmail, socket.DocumentsUpdateType, socket.DocumentsPayload{UIDs: written})
	}
	return err
}

func (s *DocumentService) DeleteFile(ctx context.Context, userEmail string, uid int64) error {
	sess := s.Repo.Open(ctx)
	defer release(ctx, sess)

	if err := sess.DeleteByUID(ctx, userEmail, uid); err != nil {
		return err
	}
	s.publish(userEmail, socket.DocumentDeleteType, socket.DocumentsPayload{UIDs: []int64{uid}})
	return nil
}

func (s *DocumentService) UpdateUser(ctx context.Context, userEmail string, state model.UserState) error {
	sess := s.Repo.Open(ctx)
	defer release(ctx, sess)

	if err := sess.UpdateUserState(ctx, userEmail, state); err != nil {
		return err
	}
	s.publish(userEmail, socket.UserStateType, state)
	return nil
}

// GetUserData materialises the user on first access and returns its
// properties together with every document it owns.
func (s *DocumentService) GetUserData(ctx context.Context, userEmail string) (*model.UserData, error) {
	sess := s.Repo.Open(ctx)
	defer release(ctx, sess)

	props, created, err := sess.MergeUser(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	docs, err := sess.ListDocuments(ctx, userEmail)
	if err != nil {
		return nil, err
	}
	if created {
		logger.Sugar.Infof("Created user node for %s", userEmail)
	}
	return &model.UserData{Properties: props, UserCreated: created, Documents: docs}, nil
}

func (s *DocumentService) publish(userEmail, eventType string, payload any) {
	if s.Feed == nil {
		return
	}
	s.Feed.Publish(userEmail, eventType, payload)
}

func release(ctx context.Context, sess repository.Session) {
	if err := sess.Close(ctx); err != nil {
		logger.Sugar.Warnf("Failed to release session: %v", err)
	}
}
