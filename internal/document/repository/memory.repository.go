package repository

import (
	"context"
	"sort"
	"sync"

	"docgraph/internal/document/model"
	"docgraph/pkg/apperr"
)

type docKey struct {
	email    string
	uid      int64
	isFolder bool
}

// MemoryRepository keeps the same User/Document model in process. It backs
// STORE_BACKEND=memory and the service tests.
type MemoryRepository struct {
	mu    sync.Mutex
	users map[string]map[string]any
	docs  map[docKey]map[string]any
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users: make(map[string]map[string]any),
		docs:  make(map[docKey]map[string]any),
	}
}

func (r *MemoryRepository) Open(context.Context) Session {
	return &memorySession{repo: r}
}

// DocumentCount reports how many documents exist across all users.
func (r *MemoryRepository) DocumentCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.docs)
}

// UserCount reports how many user nodes exist.
func (r *MemoryRepository) UserCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.users)
}

type memorySession struct {
	repo *MemoryRepository
}

// mergeUserLocked mirrors MERGE (u:User {email}). Caller holds mu.
func (r *MemoryRepository) mergeUserLocked(email string) (map[string]any, bool) {
	if u, ok := r.users[email]; ok {
		return u, false
	}
	u := map[string]any{"email": email}
	r.users[email] = u
	return u, true
}

func (s *memorySession) UpsertEntry(_ context.Context, userEmail string, entry model.Entry) error {
	r := s.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	r.mergeUserLocked(userEmail)

	var key docKey
	var path string
	var field string
	var value any
	switch e := entry.(type) {
	case model.Folder:
		key = docKey{email: userEmail, uid: e.UID, isFolder: true}
		path, field, value = e.Path, "expanded", valueOrNil(e.Expanded)
	case model.File:
		key = docKey{email: userEmail, uid: e.UID, isFolder: false}
		path, field, value = e.Path, "content", valueOrNil(e.Content)
	default:
		return apperr.Kind(apperr.ErrInvalidInput, errUnsupportedEntry(entry))
	}

	doc, ok := r.docs[key]
	if !ok {
		doc = map[string]any{
			model.UserEmailKey: key.email,
			"uid":              key.uid,
			"isFolder":         key.isFolder,
		}
		r.docs[key] = doc
	}
	doc["path"] = path
	setOrRemove(doc, field, value)
	return nil
}

func (s *memorySession) DeleteByUID(_ context.Context, userEmail string, uid int64) error {
	r := s.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.users[userEmail]; !ok {
		return nil
	}
	delete(r.docs, docKey{email: userEmail, uid: uid, isFolder: true})
	delete(r.docs, docKey{email: userEmail, uid: uid, isFolder: false})
	return nil
}

func (s *memorySession) UpdateUserState(_ context.Context, userEmail string, state model.UserState) error {
	params, err := state.Params()
	if err != nil {
		return apperr.Kind(apperr.ErrInvalidInput, err)
	}

	r := s.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.users[userEmail]
	if !ok {
		return nil
	}
	for k, v := range params {
		setOrRemove(u, k, v)
	}
	return nil
}

func (s *memorySession) MergeUser(_ context.Context, userEmail string) (map[string]any, bool, error) {
	r := s.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	u, created := r.mergeUserLocked(userEmail)
	return copyMap(u), created, nil
}

func (s *memorySession) ListDocuments(_ context.Context, userEmail string) ([]map[string]any, error) {
	r := s.repo
	r.mu.Lock()
	defer r.mu.Unlock()

	docs := make([]map[string]any, 0)
	if _, ok := r.users[userEmail]; !ok {
		return docs, nil
	}
	for key, doc := range r.docs {
		if key.email == userEmail {
			docs = append(docs, model.StripInternal(copyMap(doc)))
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i]["uid"].(int64) < docs[j]["uid"].(int64)
	})
	return docs, nil
}

func (s *memorySession) Close(context.Context) error { return nil }

// setOrRemove mirrors Cypher SET semantics where null removes the property.
func setOrRemove(props map[string]any, key string, value any) {
	if value == nil {
		delete(props, key)
		return
	}
	props[key] = value
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
