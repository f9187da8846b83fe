// Package model defines the household ledger entities and the raw document
// envelope they are persisted in.
package model

import (
	"encoding/json"
	"time"
)

// Collection names. Each is an independent document collection locally and a
// separate remote database when replicated.
const (
	CollectionAccounts     = "accounts"
	CollectionTransactions = "transactions"
	CollectionCategories   = "categories"
	CollectionCreditCards  = "credit_cards"
	CollectionLoans        = "loans"
	CollectionBudgets      = "budgets"
	CollectionRecurring    = "recurring"
	CollectionShared       = "shared"

	// CollectionIntents holds pending two-phase write intents. It is local only.
	CollectionIntents = "_intents"
)

// PersonalCollections are the household-owned collections that replicate to
// the household's own remote databases.
var PersonalCollections = []string{
	CollectionAccounts,
	CollectionTransactions,
	CollectionCategories,
	CollectionCreditCards,
	CollectionLoans,
	CollectionBudgets,
	CollectionRecurring,
}

// AllCollections lists every user-visible collection, personal and shared.
func AllCollections() []string {
	all := make([]string, 0, len(PersonalCollections)+1)
	all = append(all, PersonalCollections...)
	return append(all, CollectionShared)
}

// Document is the raw stored form of an entity.
// Body is the JSON encoding of the entity; it carries "_rev" when read back.
type Document struct {
	ID      string
	Rev     string
	Body    json.RawMessage
	Deleted bool
}

// Change is one entry of a collection's local change feed.
type Change struct {
	ID      string
	Rev     string
	Seq     int64
	Deleted bool
}

// Meta holds the fields every entity shares.
type Meta struct {
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
	ID            string    `json:"id"`
	Rev           string    `json:"_rev,omitempty"`
	HouseholdID   string    `json:"householdId"`
	UserID        string    `json:"userId,omitempty"`
	CreatedByName string    `json:"createdByName,omitempty"`
	IsArchived    bool      `json:"isArchived,omitempty"`
}

// Base returns the shared metadata. Entities get it through embedding.
func (m *Meta) Base() *Meta { return m }

// Scope identifies who is acting and for which household.
type Scope struct {
	HouseholdID string
	UserID      string
	UserName    string
}
