// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"errors"

	"livenotify/internal/model"
)

// Sentinel errors returned by Storage implementations.
var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate content")
	ErrBusy      = errors.New("storage busy")
)

// Storage is the interface for all persistence operations.
//
// Implementations retry a bounded number of times when the backend reports
// lock contention and return an error wrapping ErrBusy once exhausted.
type Storage interface {
	GetVideo(ctx context.Context, videoID string) (*model.VideoRecord, error)
	// InsertVideo creates a record. With dedup set, a record that shares
	// channel, title and category with an existing one is rejected with
	// ErrDuplicate.
	InsertVideo(ctx context.Context, rec *model.VideoRecord, dedup bool) error
	UpsertVideo(ctx context.Context, rec *model.VideoRecord) error
	ListVideosByCategory(ctx context.Context, cat model.Category) ([]model.VideoRecord, error)
	MarkNotified(ctx context.Context, videoID string) error

	LoadTracking(ctx context.Context) ([]model.TrackingEntry, error)
	SaveTracking(ctx context.Context, entries []model.TrackingEntry) error

	Close() error
}
