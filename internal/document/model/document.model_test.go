package model

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDescriptorEntryDropsOtherKindFields(t *testing.T) {
	expanded := true
	content := "hi"

	folder := Descriptor{UID: 1, IsFolder: true, Path: "/root", Expanded: &expanded, Content: &content}.Entry()
	assert.Equal(t, Folder{UID: 1, Path: "/root", Expanded: &expanded}, folder)

	file := Descriptor{UID: 2, Path: "/a.txt", Expanded: &expanded, Content: &content}.Entry()
	assert.Equal(t, File{UID: 2, Path: "/a.txt", Content: &content}, file)
	assert.Equal(t, int64(2), file.EntryUID())
}

func TestDescriptorMissingContentIsNil(t *testing.T) {
	var d Descriptor
	require.NoError(t, json.Unmarshal([]byte(`{"uid":3,"isFolder":false,"path":"/x"}`), &d))

	file, ok := d.Entry().(File)
	require.True(t, ok)
	assert.Nil(t, file.Content)
}

func TestUserStateParamsNormalizesNumbers(t *testing.T) {
	dec := json.NewDecoder(strings.NewReader(`{"openedDocuments":[1,2,3.5],"activeDocument":4}`))
	dec.UseNumber()
	var s UserState
	require.NoError(t, dec.Decode(&s))

	params, err := s.Params()
	require.NoError(t, err)

	assert.Equal(t, []any{int64(1), int64(2), 3.5}, params["openedDocuments"])
	assert.Equal(t, int64(4), params["activeDocument"])
	assert.Contains(t, params, "previewDocument")
	assert.Nil(t, params["previewDocument"])
	assert.Nil(t, params["exploredDocument"])
}

func TestNormalizeFloat(t *testing.T) {
	v, err := Normalize(float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	v, err = Normalize(0.25)
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)

	v, err = Normalize("id-1")
	require.NoError(t, err)
	assert.Equal(t, "id-1", v)
}

func TestUserDataMarshalJSON(t *testing.T) {
	data := UserData{
		Properties:  map[string]any{"email": "a@x.com", "activeDocument": int64(1)},
		UserCreated: true,
	}
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"email":"a@x.com","activeDocument":1,"userCreated":true,"documents":[]}`, string(raw))
}

func TestStripInternal(t *testing.T) {
	doc := StripInternal(map[string]any{"uid": int64(1), "userEmail": "a@x.com"})
	assert.Equal(t, map[string]any{"uid": int64(1)}, doc)
}
