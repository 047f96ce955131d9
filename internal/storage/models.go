package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Order selects how multi-record reads are sorted.
type Order int

const (
	// OrderInserted returns records in the order they were first created.
	OrderInserted Order = iota
	// OrderByID returns records by ascending item id.
	OrderByID
)

// ItemRecord is the persisted projection of a catalog item.
type ItemRecord struct {
	ID             int
	Name           string
	Number         string
	Types          []string // JSON array stored as text
	Image          []byte
	Height         int
	Weight         int
	BaseExperience int
	CreatedAt      time.Time
}

// DetailRecord is the persisted projection of an item detail.
type DetailRecord struct {
	ItemID         int
	Name           string
	Description    string // stored as NULL when empty
	Genus          string
	Types          []string // JSON array stored as text
	VarietyCount   int
	Height         int
	Weight         int
	BaseExperience int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Stats summarizes the cache contents.
type Stats struct {
	Items        int
	Details      int
	ItemsWithArt int
	LastDetailAt time.Time
}
