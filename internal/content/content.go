// Package content serves the daily content feed and app version info
// backed by shared storage objects.
package content

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"

	haven "github.com/haven-app/haven/internal"
	"github.com/haven-app/haven/internal/storage"
)

// Daily content statuses returned to the client.
const (
	StatusNoContent = "no_content_found"
	StatusUpToDate  = "up_to_date"
	StatusUpdated   = "updated"
)

const dailyPrefix = "content/"

var dailyPattern = regexp.MustCompile(`daily_content_(\d+)\.json`)

// DailyResult is the response for a daily content lookup.
type DailyResult struct {
	Status  string          `json:"status"`
	Version int             `json:"version,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Service resolves the latest daily content object against the version the
// client already has.
type Service struct {
	store storage.Store
}

// NewService returns a Service backed by the given store.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Daily lists the content objects, picks the highest numbered
// daily_content_<N>.json, and compares it with the client's version.
// Listing the whole prefix per request is acceptable at current content
// volumes.
func (s *Service) Daily(ctx context.Context, clientVersion int) (*DailyResult, error) {
	paths, err := s.store.ListObjects(ctx, dailyPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: list content: %v", haven.ErrStorage, err)
	}

	latestVersion := 0
	latestPath := ""
	for _, p := range paths {
		m := dailyPattern.FindStringSubmatch(p)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if v > latestVersion {
			latestVersion = v
			latestPath = p
		}
	}

	if latestVersion == 0 {
		return &DailyResult{Status: StatusNoContent}, nil
	}
	if clientVersion >= latestVersion {
		return &DailyResult{Status: StatusUpToDate}, nil
	}

	doc, err := s.store.LoadObject(ctx, latestPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load content %s: %v", haven.ErrStorage, latestPath, err)
	}
	if !json.Valid(doc) {
		return nil, fmt.Errorf("%w: content %s is not valid JSON", haven.ErrStorage, latestPath)
	}

	return &DailyResult{Status: StatusUpdated, Version: latestVersion, Content: doc}, nil
}
