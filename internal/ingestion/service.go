// Package ingestion exposes the live HTTP ingestion surface: a batch POST
// endpoint that validates, deduplicates and persists events through the same
// contracts the bulk importer uses, and a listing endpoint for recent events.
package ingestion

import (
	"github.com/gin-gonic/gin"
	"github.com/tallylab/tally/internal/core/storage"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// Service handles HTTP event ingestion against the event store.
type Service struct {
	store            storage.EventStore
	maxBodySizeBytes int
}

// NewService creates the ingestion service.
func NewService(store storage.EventStore, maxBodySizeMB int) *Service {
	if store == nil {
		panic("ingestion: store must not be nil")
	}
	if maxBodySizeMB <= 0 {
		maxBodySizeMB = 1 // default to 1MB
	}
	return &Service{
		store:            store,
		maxBodySizeBytes: maxBodySizeMB * 1024 * 1024,
	}
}

// RegisterRoutes registers the ingestion service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.POST("/v1/events", s.IngestHandler)
	r.GET("/v1/events", s.ListEventsHandler)
}
