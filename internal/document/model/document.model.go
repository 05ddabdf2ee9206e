package model

import (
	"encoding/json"
	"fmt"
	"math"
)

// UserEmailKey is the internal property scoping a Document to its owner. It
// is never returned to clients.
const UserEmailKey = "userEmail"

// Descriptor is the client payload describing one folder or file.
type Descriptor struct {
	UID      int64   `json:"uid"`
	IsFolder bool    `json:"isFolder"`
	Path     string  `json:"path"`
	Expanded *bool   `json:"expanded,omitempty"`
	Content  *string `json:"content,omitempty"`
}

// Entry is either a Folder or a File. Upserts switch on the concrete type so
// only the fields of that kind are ever written.
type Entry interface {
	EntryUID() int64
	isEntry()
}

type Folder struct {
	UID      int64
	Path     string
	Expanded *bool
}

type File struct {
	UID     int64
	Path    string
	Content *string
}

func (f Folder) EntryUID() int64 { return f.UID }
func (f File) EntryUID() int64   { return f.UID }
func (Folder) isEntry()          {}
func (File) isEntry()            {}

// Entry converts the descriptor into its variant. Fields belonging to the
// other kind are dropped.
func (d Descriptor) Entry() Entry {
	if d.IsFolder {
		return Folder{UID: d.UID, Path: d.Path, Expanded: d.Expanded}
	}
	return File{UID: d.UID, Path: d.Path, Content: d.Content}
}

type EditManyRequest struct {
	Documents []Descriptor `json:"documents"`
}

// UserState is the UI session state persisted on the User node. Each field is
// an arbitrary JSON value; a nil field clears the stored value.
type UserState struct {
	OpenedDocuments  any `json:"openedDocuments"`
	ActiveDocument   any `json:"activeDocument"`
	PreviewDocument  any `json:"previewDocument"`
	ExploredDocument any `json:"exploredDocument"`
}

// Params binds all four fields, normalised for the graph driver.
func (s UserState) Params() (map[string]any, error) {
	out := make(map[string]any, 4)
	for key, raw := range map[string]any{
		"openedDocuments":  s.OpenedDocuments,
		"activeDocument":   s.ActiveDocument,
		"previewDocument":  s.PreviewDocument,
		"exploredDocument": s.ExploredDocument,
	} {
		v, err := Normalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		out[key] = v
	}
	return out, nil
}

// Normalize converts decoded JSON into property values the graph accepts:
// integral numbers become int64, other numbers float64, arrays are converted
// element-wise. Objects are passed through unchanged; the store rejects them
// if it cannot hold them.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("invalid number %q: %w", val.String(), err)
		}
		return f, nil
	case float64:
		if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
			return int64(val), nil
		}
		return val, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			n, err := Normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return v, nil
	}
}

// UserData is the aggregate returned by the fetch operation.
type UserData struct {
	Properties  map[string]any
	UserCreated bool
	Documents   []map[string]any
}

// MarshalJSON flattens the user's properties next to documents and
// userCreated. Stored properties win on key collisions.
func (u UserData) MarshalJSON() ([]byte, error) {
	docs := u.Documents
	if docs == nil {
		docs = []map[string]any{}
	}
	out := make(map[string]any, len(u.Properties)+2)
	out["documents"] = docs
	out["userCreated"] = u.UserCreated
	for k, v := range u.Properties {
		out[k] = v
	}
	return json.Marshal(out)
}

// StripInternal removes the owner scoping field from a document.
func StripInternal(doc map[string]any) map[string]any {
	delete(doc, UserEmailKey)
	return doc
}

type SuccessResponse struct {
	Success bool `json:"success"`
}

type ErrorResponse struct {
	Error bool   `json:"error"`
	Err   string `json:"err"`
}
