package models

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bjpl/offlinekit/internal/common"
)

func TestFieldsDecodeRoundtrip(t *testing.T) {
	c := Content{Title: "t", Body: "b", Tags: "go,sql", Published: true, AuthorID: "7"}

	fields, err := Fields(c)
	require.NoError(t, err)
	assert.Equal(t, "t", fields["title"])
	assert.Equal(t, true, fields["published"])

	back, err := Decode[Content](fields)
	require.NoError(t, err)
	assert.Equal(t, &c, back)
}

func TestValidatorsRejectUnknownFields(t *testing.T) {
	err := Validators[CollectionContent](map[string]any{
		"title": "t", "bod": "typo",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrValidation))
}

func TestValidatorsRequiredFields(t *testing.T) {
	tests := []struct {
		name       string
		collection string
		fields     map[string]any
		wantErr    bool
	}{
		{"content without title", CollectionContent, map[string]any{"body": "b"}, true},
		{"content ok", CollectionContent, map[string]any{"title": "t"}, false},
		{"user without username", CollectionUsers, map[string]any{"email": "e@x"}, true},
		{"user with bad role", CollectionUsers, map[string]any{"username": "u", "role": "root"}, true},
		{"media negative size", CollectionMedia, map[string]any{"name": "f", "size": -1}, true},
		{"media ok", CollectionMedia, map[string]any{"name": "f", "size": 10}, false},
		{"settings ok", CollectionSettings, map[string]any{"theme": "dark"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validators[tt.collection](tt.fields)
			if tt.wantErr {
				assert.True(t, errors.Is(err, common.ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
