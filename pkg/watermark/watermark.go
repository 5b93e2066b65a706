// Package watermark persists, per query type, the date through which catalog
// records were last exported.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
)

// Section is the ini section (and Redis hash suffix) holding the dates.
const Section = "Last Updated"

// DateLayout is the calendar date format stored for every query type.
const DateLayout = "2006-01-02"

var (
	// ErrStoreNotFound indicates the backing file or key does not exist.
	ErrStoreNotFound = errors.New("watermark store not found")

	// ErrNoWatermark indicates the store has no entry for a query type.
	ErrNoWatermark = errors.New("no watermark for query type")

	// ErrInvalidDate indicates a stored date fails the format check.
	ErrInvalidDate = errors.New("invalid watermark date")
)

// datePattern only anchors at the start and does not check ranges, so
// "2021-13-40" passes. Dates are forwarded to the catalog as-is.
var datePattern = regexp.MustCompile(`^[0-2]\d{3}-[0-1]?\d-[0-3]?\d`)

// ValidateDate applies the permissive yyyy-mm-dd format check.
func ValidateDate(date string) error {
	if !datePattern.MatchString(date) {
		return fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return nil
}

// Store loads and saves the whole watermark set.
type Store interface {
	// Load reads every watermark. It returns ErrStoreNotFound if the store
	// was never initialized; a missing store is fatal for a run.
	Load(ctx context.Context) (*State, error)

	// Save replaces the stored watermarks with state.
	Save(ctx context.Context, state *State) error
}

// State is the in-memory watermark set, mutated during a run and saved once.
type State struct {
	dates map[string]string
}

// NewState returns a State seeded with dates.
func NewState(dates map[string]string) *State {
	s := &State{dates: make(map[string]string, len(dates))}
	for k, v := range dates {
		s.dates[k] = v
	}
	return s
}

// Get returns the validated watermark for a query type.
func (s *State) Get(queryType string) (string, error) {
	date, ok := s.dates[queryType]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoWatermark, queryType)
	}
	if err := ValidateDate(date); err != nil {
		return "", fmt.Errorf("%s: %w", queryType, err)
	}
	return date, nil
}

// Set records a new watermark for a query type.
func (s *State) Set(queryType, date string) {
	s.dates[queryType] = date
}

// Dates returns a copy of all entries.
func (s *State) Dates() map[string]string {
	out := make(map[string]string, len(s.dates))
	for k, v := range s.dates {
		out[k] = v
	}
	return out
}

// Keys returns the query types present, sorted.
func (s *State) Keys() []string {
	keys := make([]string, 0, len(s.dates))
	for k := range s.dates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
