package models

import (
	"fmt"
	"time"
)

type Provider string

const (
	ProviderManual  Provider = "manual"
	ProviderPokeAPI Provider = "pokeapi"
	ProviderSprites Provider = "sprites"
)

func (p Provider) Valid() bool {
	return p == ProviderManual || p == ProviderPokeAPI || p == ProviderSprites
}

func (p Provider) String() string {
	return string(p)
}

// ToggleAction is the ownership change a confirmation applies.
type ToggleAction string

const (
	ActionAdd    ToggleAction = "add"
	ActionRemove ToggleAction = "remove"
)

func (a ToggleAction) Valid() bool {
	return a == ActionAdd || a == ActionRemove
}

func (a ToggleAction) String() string {
	return string(a)
}

// Label returns the confirmation wording shown to the user.
func (a ToggleAction) Label() string {
	switch a {
	case ActionAdd:
		return "Mark as owned"
	case ActionRemove:
		return "Remove from collection"
	default:
		return ""
	}
}

// Item is one catalog entry. Items are never mutated after the catalog loads.
type Item struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	ImageURL   string `json:"image_url"`
	Generation int    `json:"generation"`
}

// Location places an item in a physical binder.
type Location struct {
	Folder   int `json:"folder"`
	Page     int `json:"page"`
	Position int `json:"position"`
}

func (l Location) String() string {
	return fmt.Sprintf("P%d • F%d • Pos %d", l.Folder, l.Page, l.Position)
}

type GenerationStat struct {
	Generation int `json:"generation"`
	Total      int `json:"total"`
	Owned      int `json:"owned"`
	Missing    int `json:"missing"`
}

type OwnedCard struct {
	UserID    int64     `json:"user_id" db:"user_id"`
	PokemonID int       `json:"pokemon_id" db:"pokemon_id"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type ExternalCache struct {
	ID          int64     `json:"id" db:"id"`
	Provider    Provider  `json:"provider" db:"provider"`
	CacheKey    string    `json:"cache_key" db:"cache_key"`
	PayloadJSON string    `json:"payload_json" db:"payload_json"`
	ETag        *string   `json:"etag,omitempty" db:"etag"`
	FetchedAt   time.Time `json:"fetched_at" db:"fetched_at"`
	TTLSeconds  int       `json:"ttl_seconds" db:"ttl_seconds"`
}

type User struct {
	ID           int64      `json:"id" db:"id"`
	Email        string     `json:"email" db:"email"`
	DisplayName  string     `json:"display_name" db:"display_name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	DisabledAt   *time.Time `json:"disabled_at,omitempty" db:"disabled_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Disabled reports whether the account has been switched off.
func (u *User) Disabled() bool {
	return u != nil && u.DisabledAt != nil
}
