// Package allowlist persists the whitelist/greylist memory that suppresses
// redundant analysis work across runs. Entries are keyed by account DID; one
// row per DID makes the two classifications structurally exclusive.
package allowlist

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	_ "modernc.org/sqlite"
)

const (
	// ListWhitelist marks an account as exempt from classification and blocking.
	ListWhitelist = "whitelist"
	// ListGreylist marks an account as watched; it is still classified.
	ListGreylist = "greylist"

	// ReasonMutual records an automatic exemption for a mutual follow.
	ReasonMutual = "mutual"
	// ReasonManual records an operator-initiated entry.
	ReasonManual = "manual"

	errMessageEmptyDID      = "account did cannot be empty"
	errMessageMissingDBPath = "store requires a database path"
)

var (
	errEmptyDID      = errors.New(errMessageEmptyDID)
	errMissingDBPath = errors.New(errMessageMissingDBPath)
)

// Entry is one persisted allow-list record.
type Entry struct {
	DID     string `gorm:"primaryKey;column:did" json:"did"`
	Handle  string `gorm:"not null" json:"handle"`
	List    string `gorm:"not null;index" json:"list"`
	Reason  string `gorm:"not null" json:"reason"`
	AddedAt string `gorm:"not null" json:"addedAt"`
}

// TableName keeps the table name stable across gorm naming strategy changes.
func (Entry) TableName() string { return "allow_list_entries" }

// Store is a durable whitelist/greylist memory backed by a local sqlite file.
type Store struct {
	db *gorm.DB
}

// Open creates the sqlite-backed database handle for a store.
func Open(path string) (*gorm.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errMissingDBPath
	}
	return gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: path}, &gorm.Config{})
}

// NewStore constructs a Store and ensures its schema exists.
func NewStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// AddToWhitelist inserts or moves an account into the whitelist. A single
// upsert on the DID primary key atomically removes any greylist membership.
func (store *Store) AddToWhitelist(ctx context.Context, did string, handle string, reason string) error {
	return store.upsert(ctx, did, handle, ListWhitelist, reason)
}

// AddToGreylist inserts or moves an account into the greylist, atomically
// removing any whitelist membership.
func (store *Store) AddToGreylist(ctx context.Context, did string, handle string, reason string) error {
	return store.upsert(ctx, did, handle, ListGreylist, reason)
}

// Remove deletes an account from whichever classification holds it.
func (store *Store) Remove(ctx context.Context, did string) error {
	if strings.TrimSpace(did) == "" {
		return errEmptyDID
	}
	return store.db.WithContext(ctx).Delete(&Entry{}, "did = ?", did).Error
}

// IsWhitelisted reports whitelist membership for an account.
func (store *Store) IsWhitelisted(ctx context.Context, did string) (bool, error) {
	return store.isMember(ctx, did, ListWhitelist)
}

// IsGreylisted reports greylist membership for an account.
func (store *Store) IsGreylisted(ctx context.Context, did string) (bool, error) {
	return store.isMember(ctx, did, ListGreylist)
}

// Whitelist returns every whitelist entry ordered by DID.
func (store *Store) Whitelist(ctx context.Context) ([]Entry, error) {
	return store.list(ctx, ListWhitelist)
}

// Greylist returns every greylist entry ordered by DID.
func (store *Store) Greylist(ctx context.Context) ([]Entry, error) {
	return store.list(ctx, ListGreylist)
}

// Clear empties both classifications; invoked on sign-out so classification
// state never leaks across accounts.
func (store *Store) Clear(ctx context.Context) error {
	return store.db.WithContext(ctx).Where("1 = 1").Delete(&Entry{}).Error
}

func (store *Store) upsert(ctx context.Context, did string, handle string, list string, reason string) error {
	if strings.TrimSpace(did) == "" {
		return errEmptyDID
	}
	if reason == "" {
		reason = ReasonManual
	}
	entry := Entry{
		DID:     did,
		Handle:  handle,
		List:    list,
		Reason:  reason,
		AddedAt: time.Now().UTC().Format(time.RFC3339),
	}
	return store.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "did"}},
		DoUpdates: clause.AssignmentColumns([]string{"handle", "list", "reason", "added_at"}),
	}).Create(&entry).Error
}

func (store *Store) isMember(ctx context.Context, did string, list string) (bool, error) {
	if strings.TrimSpace(did) == "" {
		return false, errEmptyDID
	}
	var count int64
	err := store.db.WithContext(ctx).Model(&Entry{}).Where("did = ? AND list = ?", did, list).Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (store *Store) list(ctx context.Context, list string) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := store.db.WithContext(ctx).Where("list = ?", list).Order("did").Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}
