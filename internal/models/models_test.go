package models

import (
	"testing"
	"time"
)

func TestProvider_Valid(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		want     bool
	}{
		{"valid manual", ProviderManual, true},
		{"valid pokeapi", ProviderPokeAPI, true},
		{"valid sprites", ProviderSprites, true},
		{"invalid", Provider("brickset"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.provider.Valid(); got != tt.want {
				t.Errorf("Provider.Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToggleAction_Label(t *testing.T) {
	tests := []struct {
		name   string
		action ToggleAction
		valid  bool
		label  string
	}{
		{"add", ActionAdd, true, "Mark as owned"},
		{"remove", ActionRemove, true, "Remove from collection"},
		{"invalid", ToggleAction("flip"), false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.action.Valid(); got != tt.valid {
				t.Errorf("ToggleAction.Valid() = %v, want %v", got, tt.valid)
			}
			if got := tt.action.Label(); got != tt.label {
				t.Errorf("ToggleAction.Label() = %q, want %q", got, tt.label)
			}
		})
	}
}

func TestLocation_String(t *testing.T) {
	loc := Location{Folder: 2, Page: 14, Position: 7}
	if got := loc.String(); got != "P2 • F14 • Pos 7" {
		t.Errorf("Location.String() = %q", got)
	}
}

func TestUser_Disabled(t *testing.T) {
	var nilUser *User
	if nilUser.Disabled() {
		t.Error("nil user should not be disabled")
	}

	user := &User{ID: 1}
	if user.Disabled() {
		t.Error("user without disabled_at should not be disabled")
	}

	now := time.Now()
	user.DisabledAt = &now
	if !user.Disabled() {
		t.Error("user with disabled_at should be disabled")
	}
}
