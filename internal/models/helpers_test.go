package models

import (
	"testing"

	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase", "hello", "hello"},
		{"uppercase", "Hello World", "hello-world"},
		{"underscores", "water_act_2024", "water-act-2024"},
		{"special chars stripped", "Farmers' Union!", "farmers-union"},
		{"numbers preserved", "act-v2.1", "act-v21"},
		{"mixed", "Clean Water_Act (v3)", "clean-water-act-v3"},
		{"empty string", "", ""},
		{"only special chars", "!@#$%", ""},
		{"consecutive spaces", "city   council", "city---council"},
		{"unicode stripped", "café résumé", "caf-rsum"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.in)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRecordIDString(t *testing.T) {
	id, err := RecordIDString(surrealmodels.RecordID{Table: "debate_session", ID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, "abc", id)

	_, err = RecordIDString(surrealmodels.RecordID{Table: "debate_message", ID: 42})
	assert.Error(t, err)
	assert.Panics(t, func() { MustRecordIDString(surrealmodels.RecordID{Table: "policy", ID: 7}) })
}
