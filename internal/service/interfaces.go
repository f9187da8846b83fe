// Package service defines the contracts shared between the storage, ledger,
// replication and migration layers.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/hearth/internal/model"
)

// Indexed document fields. Queries may only filter and order on these.
const (
	FieldHousehold   = "householdId"
	FieldDate        = "date"
	FieldAccount     = "accountId"
	FieldCategory    = "categoryId"
	FieldNextDueDate = "nextDueDate"
	FieldStatus      = "status"
	FieldBudgetMode  = "budgetMode"
)

// Cond is an equality or range condition on an indexed field.
type Cond struct {
	Field string
	Op    string // "=", "<", "<=", ">", ">="; empty means "="
	Value string
}

// Query selects live documents of one collection.
type Query struct {
	// Filter runs after the indexed conditions; nil keeps everything.
	Filter     func(model.Document) bool
	OrderBy    string
	Where      []Cond
	Limit      int
	Descending bool
}

// BulkResult reports the outcome of one document of a bulk write.
type BulkResult struct {
	Err error
	ID  string
	Rev string
}

// Collection is one revisioned document collection.
type Collection interface {
	Name() string
	Get(ctx context.Context, id string) (*model.Document, error)
	Put(ctx context.Context, doc model.Document) (string, error)
	Delete(ctx context.Context, id, rev string) (string, error)
	Query(ctx context.Context, q Query) ([]model.Document, error)
	BulkPut(ctx context.Context, docs []model.Document) ([]BulkResult, error)
	AllIDs(ctx context.Context) ([]string, error)
}

// DocumentStore hands out collections by name.
type DocumentStore interface {
	Collection(name string) Collection
}

// KeyValueStore is the secure string key/value capability of the device.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Keys used in the key/value store.
const (
	KeyHouseholdID     = "household_id"
	KeyAutoSync        = "sync_auto_enabled"
	KeySyncConfig      = "sync_config"
	KeyGuestMode       = "guest_mode"
	KeyGuestID         = "guest_id"
	KeyPreviousGuestID = "previous_guest_id"
	KeyUserColors      = "user_colors"
	KeyAuthProfile     = "auth_profile"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time { return time.Now().UTC() }
