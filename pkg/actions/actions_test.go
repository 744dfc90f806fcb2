package actions_test

import (
	"context"
	"testing"

	"github.com/nocodile/docflow/pkg/actions"
	"github.com/nocodile/docflow/pkg/directory"
	"github.com/nocodile/docflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDirectory() *directory.Static {
	return directory.NewStatic(
		directory.StaticUser{ID: "alice", Roles: []string{"finance"}},
		directory.StaticUser{ID: "bob", Roles: []string{"finance"}},
		directory.StaticUser{ID: "carol", Roles: []string{"legal"}},
	)
}

func TestResolveRecipients(t *testing.T) {
	input := actions.Input{
		Document: &models.Document{
			ID:          "doc-1",
			CreatedByID: "submitter-1",
			Data:        map[string]any{"ownerId": "dave", "reviewers": []any{"erin", "frank"}},
		},
		CurrentApprovers: []string{"alice", "carol"},
	}

	dir := testDirectory()

	tests := []struct {
		name       string
		recipients []models.RecipientConfig
		want       []string
	}{
		{
			name:       "submitter",
			recipients: []models.RecipientConfig{{Type: models.RecipientSubmitter}},
			want:       []string{"submitter-1"},
		},
		{
			name:       "approvers",
			recipients: []models.RecipientConfig{{Type: models.RecipientApprovers}},
			want:       []string{"alice", "carol"},
		},
		{
			name:       "role members",
			recipients: []models.RecipientConfig{{Type: models.RecipientRole, RoleID: "finance"}},
			want:       []string{"alice", "bob"},
		},
		{
			name:       "explicit user",
			recipients: []models.RecipientConfig{{Type: models.RecipientUser, UserID: "carol"}},
			want:       []string{"carol"},
		},
		{
			name:       "dynamic single field",
			recipients: []models.RecipientConfig{{Type: models.RecipientDynamic, FieldKey: "ownerId"}},
			want:       []string{"dave"},
		},
		{
			name:       "dynamic list field",
			recipients: []models.RecipientConfig{{Type: models.RecipientDynamic, FieldKey: "reviewers"}},
			want:       []string{"erin", "frank"},
		},
		{
			name: "deduplicated union",
			recipients: []models.RecipientConfig{
				{Type: models.RecipientApprovers},
				{Type: models.RecipientRole, RoleID: "finance"},
			},
			want: []string{"alice", "carol", "bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := actions.ResolveRecipients(context.Background(), tt.recipients, input, dir)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveRecipients_Empty(t *testing.T) {
	input := actions.Input{Document: &models.Document{ID: "doc-1"}}

	_, err := actions.ResolveRecipients(context.Background(),
		[]models.RecipientConfig{{Type: models.RecipientDynamic, FieldKey: "missing"}},
		input, testDirectory(),
	)
	assert.ErrorIs(t, err, actions.ErrUnresolvedRecipient)
}
