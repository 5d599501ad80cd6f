// Package session holds the state of one original/editions comparison: the
// uploaded images, the analysis status and the generated text.
//
// Every change to the original image, and every reset, starts a new
// generation. An analysis run records the generation it started in and its
// results are dropped if the generation has moved on by the time it ends.
package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lehigh-university-libraries/instructgen/internal/models"
)

var (
	ErrNoOriginal         = errors.New("no original image")
	ErrNoEditions         = errors.New("no edition images")
	ErrAnalysisInProgress = errors.New("analysis already in progress")
	ErrImageNotFound      = errors.New("image not found")
	ErrDuplicateEdition   = errors.New("edition id already in use")
)

// AnalysisFailedMessage is shown when a run ends in the Error state
const AnalysisFailedMessage = "analysis failed"

type Session struct {
	mu sync.RWMutex

	id          string
	original    *models.UploadedImage
	editions    []models.UploadedImage
	description string
	results     map[string]string
	status      models.AnalysisStatus
	lastError   string
	generation  uint64
	createdAt   time.Time
	updatedAt   time.Time
}

// Run is the input of one analysis run, captured when it starts
type Run struct {
	SessionID  string
	Generation uint64
	Original   models.UploadedImage
	Editions   []models.UploadedImage
}

// New returns an empty session in the Idle state
func New(id string) *Session {
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now()
	return &Session{
		id:        id,
		results:   make(map[string]string),
		status:    models.StatusIdle,
		createdAt: now,
		updatedAt: now,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Status() models.AnalysisStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetOriginal replaces the original image and clears everything derived from it.
func (s *Session) SetOriginal(img models.UploadedImage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	img.ID = models.OriginalImageID
	s.original = &img
	s.clearResultsLocked()
	s.generation++
	s.touchLocked()
}

// RemoveOriginal drops the original image and everything derived from it.
func (s *Session) RemoveOriginal() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.original = nil
	s.clearResultsLocked()
	s.generation++
	s.touchLocked()
}

// AddEdition appends an edition and returns its id. An empty img.ID gets a
// fresh uuid. Editions cannot be added while a run is in flight. Adding to a
// finished session moves it back to Idle; results for the other editions are
// kept.
func (s *Session) AddEdition(img models.UploadedImage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.original == nil {
		return "", fmt.Errorf("upload the original image first: %w", ErrNoOriginal)
	}
	if s.status == models.StatusAnalyzing {
		return "", ErrAnalysisInProgress
	}
	if img.ID == "" {
		img.ID = uuid.NewString()
	}
	if img.ID == models.OriginalImageID || s.editionIndexLocked(img.ID) >= 0 {
		return "", fmt.Errorf("%w: %s", ErrDuplicateEdition, img.ID)
	}

	s.editions = append(s.editions, img)
	if s.status == models.StatusComplete || s.status == models.StatusError {
		s.status = models.StatusIdle
		s.lastError = ""
	}
	s.touchLocked()
	return img.ID, nil
}

// RemoveEdition removes an edition and its result, whatever the status.
func (s *Session) RemoveEdition(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.editionIndexLocked(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrImageNotFound, id)
	}
	s.editions = append(s.editions[:idx], s.editions[idx+1:]...)
	delete(s.results, id)
	s.touchLocked()
	return nil
}

// Reset clears all images and results and returns to Idle.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.original = nil
	s.editions = nil
	s.clearResultsLocked()
	s.generation++
	s.touchLocked()
}

// Image returns the original or an edition by id
func (s *Session) Image(id string) (models.UploadedImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if id == models.OriginalImageID {
		if s.original == nil {
			return models.UploadedImage{}, false
		}
		return *s.original, true
	}
	if idx := s.editionIndexLocked(id); idx >= 0 {
		return s.editions[idx], true
	}
	return models.UploadedImage{}, false
}

// BeginAnalysis checks the preconditions of a run and, if they hold, moves the
// session to Analyzing and clears stale results. On error nothing changes.
func (s *Session) BeginAnalysis() (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == models.StatusAnalyzing {
		return nil, ErrAnalysisInProgress
	}
	if s.original == nil {
		return nil, ErrNoOriginal
	}
	if len(s.editions) == 0 {
		return nil, ErrNoEditions
	}

	s.status = models.StatusAnalyzing
	s.description = ""
	s.results = make(map[string]string)
	s.lastError = ""
	s.touchLocked()

	editions := make([]models.UploadedImage, len(s.editions))
	copy(editions, s.editions)
	return &Run{
		SessionID:  s.id,
		Generation: s.generation,
		Original:   *s.original,
		Editions:   editions,
	}, nil
}

// CompleteAnalysis stores the results of run. Results for editions removed
// during the run are dropped. It returns false if the run was superseded.
func (s *Session) CompleteAnalysis(run *Run, description string, results map[string]string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(run) {
		return false
	}

	s.description = description
	s.results = make(map[string]string, len(results))
	for id, text := range results {
		if s.editionIndexLocked(id) >= 0 {
			s.results[id] = text
		}
	}
	s.status = models.StatusComplete
	s.touchLocked()
	return true
}

// FailAnalysis moves the session to Error and discards partial results. It
// returns false if the run was superseded.
func (s *Session) FailAnalysis(run *Run) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.currentLocked(run) {
		return false
	}

	s.description = ""
	s.results = make(map[string]string)
	s.status = models.StatusError
	s.lastError = AnalysisFailedMessage
	s.touchLocked()
	return true
}

// Snapshot returns a copy of the session state. Results follow edition order.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.SessionSnapshot{
		ID:                  s.id,
		Status:              s.status,
		Editions:            make([]models.UploadedImage, len(s.editions)),
		OriginalDescription: s.description,
		Error:               s.lastError,
		CreatedAt:           s.createdAt,
		UpdatedAt:           s.updatedAt,
	}
	if s.original != nil {
		original := *s.original
		snap.Original = &original
	}
	copy(snap.Editions, s.editions)

	for i, ed := range s.editions {
		text, ok := s.results[ed.ID]
		if !ok {
			continue
		}
		snap.Results = append(snap.Results, models.EditionResult{
			EditionID:    ed.ID,
			Position:     i + 1,
			Filename:     ed.Filename,
			Instructions: text,
		})
	}
	return snap
}

func (s *Session) currentLocked(run *Run) bool {
	return run != nil && s.status == models.StatusAnalyzing && run.Generation == s.generation
}

func (s *Session) clearResultsLocked() {
	s.description = ""
	s.results = make(map[string]string)
	s.status = models.StatusIdle
	s.lastError = ""
}

func (s *Session) editionIndexLocked(id string) int {
	for i, ed := range s.editions {
		if ed.ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) touchLocked() {
	s.updatedAt = time.Now()
}
