// Package session holds the host-agnostic view state for one user session:
// the current forecast, loading and refreshing indicators, search
// suggestions, history and connectivity notices.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/connectivity"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/search"
	"github.com/kjstillabower/weather-lookup/internal/service"
)

type Status string

const (
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

const (
	noticeWentOffline = "You are currently offline. Displaying cached data if available."
	noticeNoResults   = "No locations found for this search."
)

// ErrorState is the presentation form of a service error.
type ErrorState struct {
	Kind    service.Kind `json:"kind"`
	Message string       `json:"message"`
}

// State is a snapshot of the session view.
type State struct {
	Status      Status            `json:"status"`
	Refreshing  bool              `json:"refreshing"`
	Error       *ErrorState       `json:"error,omitempty"`
	Weather     *service.Forecast `json:"weather,omitempty"`
	Query       string            `json:"query,omitempty"`
	Locations   []models.Location `json:"locations"`
	SearchError *ErrorState       `json:"searchError,omitempty"`
	History     []models.Location `json:"history"`
	Offline     bool              `json:"offline"`
	Notices     []string          `json:"notices,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// Policy is the retrieval policy as seen by the session.
type Policy interface {
	SelectLocation(ctx context.Context, loc models.Location) (service.Forecast, error)
	Refresh(ctx context.Context) (service.Forecast, error)
	SearchLocations(ctx context.Context, query string) ([]models.Location, error)
	History() []models.Location
	ClearHistory(ctx context.Context) error
	Online() bool
	MinQueryLength() int
}

// Monitor delivers connectivity transitions.
type Monitor interface {
	Subscribe(fn func(connectivity.Transition)) (unsubscribe func())
}

// Session is safe for concurrent use. All state changes happen when an
// operation completes.
type Session struct {
	policy Policy
	logger *zap.Logger

	mu    sync.Mutex
	state State

	debouncer   *search.Debouncer
	unsubscribe func()
}

// New creates a Session and subscribes it to connectivity transitions.
// searchDelay <= 0 uses search.DefaultDelay.
func New(ctx context.Context, policy Policy, monitor Monitor, searchDelay time.Duration, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		policy: policy,
		logger: logger,
		state: State{
			Status:    StatusLoading,
			Locations: []models.Location{},
			History:   policy.History(),
			Offline:   !policy.Online(),
			UpdatedAt: time.Now(),
		},
	}
	s.debouncer = search.NewDebouncer(ctx, searchDelay, policy.SearchLocations, s.applySearch)
	if monitor != nil {
		s.unsubscribe = monitor.Subscribe(s.onTransition)
	}
	return s
}

// Close stops the debouncer and the connectivity subscription.
func (s *Session) Close() {
	s.debouncer.Stop()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyLocked()
}

// TakeState returns a copy of the current state and clears the pending
// notices it carries, so each notice is delivered once.
func (s *Session) TakeState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.copyLocked()
	s.state.Notices = nil
	return out
}

// Start performs the initial load: the most recent city, or the default city.
func (s *Session) Start(ctx context.Context) (service.Forecast, error) {
	s.update(func(st *State) {
		st.Status = StatusLoading
		st.Error = nil
		st.History = s.policy.History()
	})
	f, err := s.policy.Refresh(ctx)
	s.applyForecast(f, err, false)
	return f, err
}

// Select loads the forecast for a chosen location and clears suggestions.
func (s *Session) Select(ctx context.Context, loc models.Location) (service.Forecast, error) {
	s.update(func(st *State) {
		st.Status = StatusLoading
		st.Error = nil
		st.Locations = []models.Location{}
		st.SearchError = nil
		st.Query = ""
	})
	f, err := s.policy.SelectLocation(ctx, loc)
	s.applyForecast(f, err, false)
	return f, err
}

// Refresh reloads the current city. Only the refreshing indicator is set, so
// the currently shown forecast stays visible.
func (s *Session) Refresh(ctx context.Context) (service.Forecast, error) {
	s.update(func(st *State) {
		st.Refreshing = true
	})
	f, err := s.policy.Refresh(ctx)
	s.applyForecast(f, err, true)
	return f, err
}

// Search feeds a keystroke into the debouncer. Suggestions appear in the
// state once the query settles.
func (s *Session) Search(query string) {
	s.update(func(st *State) {
		st.Query = query
	})
	s.debouncer.Submit(query)
}

// FlushSearch issues any pending query immediately.
func (s *Session) FlushSearch() {
	s.debouncer.Flush()
}

// ClearHistory empties history. A failure is surfaced as a notice and returned.
func (s *Session) ClearHistory(ctx context.Context) error {
	err := s.policy.ClearHistory(ctx)
	s.update(func(st *State) {
		st.History = s.policy.History()
		if err != nil {
			st.Notices = append(st.Notices, service.Message(err))
		} else {
			st.Notices = append(st.Notices, "Search history cleared.")
		}
	})
	return err
}

func (s *Session) applyForecast(f service.Forecast, err error, refresh bool) {
	s.update(func(st *State) {
		if refresh {
			st.Refreshing = false
		}
		st.History = s.policy.History()
		if err != nil {
			st.Status = StatusError
			st.Error = &ErrorState{Kind: service.KindOf(err), Message: service.Message(err)}
			if !errors.Is(err, context.Canceled) {
				s.logger.Debug("forecast failed", zap.String("kind", string(st.Error.Kind)), zap.Error(err))
			}
			return
		}
		st.Status = StatusReady
		st.Error = nil
		fc := f
		st.Weather = &fc
		if f.FromCache && f.Offline {
			st.Notices = append(st.Notices, fmt.Sprintf("Displaying cached data for %s. Connect to internet for live updates.", f.City))
		}
	})
}

func (s *Session) applySearch(r search.Result) {
	s.update(func(st *State) {
		if r.Err != nil {
			st.Locations = []models.Location{}
			st.SearchError = &ErrorState{Kind: service.KindOf(r.Err), Message: service.Message(r.Err)}
			return
		}
		st.SearchError = nil
		st.Locations = r.Locations
		if len(r.Locations) == 0 && len([]rune(strings.TrimSpace(r.Query))) >= s.policy.MinQueryLength() {
			st.SearchError = &ErrorState{Kind: service.KindNone, Message: noticeNoResults}
		}
	})
}

// onTransition records one notice per online-to-offline transition.
func (s *Session) onTransition(tr connectivity.Transition) {
	s.update(func(st *State) {
		st.Offline = !tr.Online
		if !tr.Online {
			st.Notices = append(st.Notices, noticeWentOffline)
		}
	})
	if !tr.Online {
		s.logger.Info("connectivity lost")
	} else {
		s.logger.Info("connectivity restored")
	}
}

func (s *Session) update(fn func(st *State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.state.UpdatedAt = time.Now()
}

func (s *Session) copyLocked() State {
	out := s.state
	out.Locations = append([]models.Location(nil), s.state.Locations...)
	if out.Locations == nil {
		out.Locations = []models.Location{}
	}
	out.History = append([]models.Location(nil), s.state.History...)
	if out.History == nil {
		out.History = []models.Location{}
	}
	out.Notices = append([]string(nil), s.state.Notices...)
	if s.state.Weather != nil {
		w := *s.state.Weather
		out.Weather = &w
	}
	if s.state.Error != nil {
		e := *s.state.Error
		out.Error = &e
	}
	if s.state.SearchError != nil {
		e := *s.state.SearchError
		out.SearchError = &e
	}
	return out
}
