package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-lookup/internal/cache"
	"github.com/kjstillabower/weather-lookup/internal/client"
	"github.com/kjstillabower/weather-lookup/internal/models"
	"github.com/kjstillabower/weather-lookup/internal/observability"
	"github.com/kjstillabower/weather-lookup/internal/traffic"
	"github.com/kjstillabower/weather-lookup/internal/validation"
)

// Origin records why a forecast was requested. Only selections touch history.
type Origin string

const (
	OriginSelection  Origin = "selection"
	OriginLookup     Origin = "lookup"
	OriginRefresh    Origin = "refresh"
	OriginBackground Origin = "background"
)

// ForecastCache is the subset of cache.ForecastCache used by the service.
type ForecastCache interface {
	Get(ctx context.Context, city string) (cache.Entry, bool)
	Put(ctx context.Context, city string, payload models.ForecastResult) error
}

// SearchHistory is the subset of history.History used by the service.
type SearchHistory interface {
	Add(ctx context.Context, loc models.Location) error
	Entries() []models.Location
	Latest() (models.Location, bool)
	Clear(ctx context.Context) error
}

// Connectivity reports the best-known reachability of the provider.
type Connectivity interface {
	Online() bool
}

// Forecast is a resolved forecast together with where it came from.
type Forecast struct {
	City      string                `json:"city"`
	Data      models.ForecastResult `json:"data"`
	FromCache bool                  `json:"fromCache"`
	Offline   bool                  `json:"offline"`
	StoredAt  time.Time             `json:"storedAt"`
}

// Options configures a WeatherService. Zero values fall back to defaults.
type Options struct {
	ForecastDays   int
	MinQueryLength int
	MaxCityLength  int
	DefaultCity    string
}

const (
	DefaultForecastDays   = 7
	DefaultMinQueryLength = 3
	DefaultCity           = "Riyadh"
)

// WeatherService is the retrieval policy: it decides whether a forecast comes
// from the provider, from the cache, or fails, and keeps history in step with
// explicit selections.
type WeatherService struct {
	client  client.WeatherClient
	cache   ForecastCache
	history SearchHistory
	conn    Connectivity
	opts    Options
	logger  *zap.Logger
}

// NewWeatherService creates a WeatherService with the provided dependencies.
func NewWeatherService(c client.WeatherClient, fc ForecastCache, h SearchHistory, conn Connectivity, opts Options, logger *zap.Logger) *WeatherService {
	if opts.ForecastDays <= 0 {
		opts.ForecastDays = DefaultForecastDays
	}
	if opts.MinQueryLength <= 0 {
		opts.MinQueryLength = DefaultMinQueryLength
	}
	if strings.TrimSpace(opts.DefaultCity) == "" {
		opts.DefaultCity = DefaultCity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherService{
		client:  c,
		cache:   fc,
		history: h,
		conn:    conn,
		opts:    opts,
		logger:  logger,
	}
}

func (s *WeatherService) loggerFor(ctx context.Context) *zap.Logger {
	return observability.LoggerFromContext(ctx, s.logger)
}

// MinQueryLength is the shortest trimmed query sent to the provider.
func (s *WeatherService) MinQueryLength() int {
	return s.opts.MinQueryLength
}

// Online reports the connectivity state the policy is acting on.
func (s *WeatherService) Online() bool {
	return s.conn.Online()
}

// GetForecast resolves the forecast for city. Offline it serves only a fresh
// cache entry; online it always asks the provider and caches the result.
// With OriginSelection a successful result also moves the city to the front
// of the history.
func (s *WeatherService) GetForecast(ctx context.Context, city string, origin Origin) (Forecast, error) {
	name, err := validation.ValidateCity(city, s.opts.MaxCityLength)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	f, err := s.resolve(ctx, name, origin)
	if err != nil {
		return Forecast{}, err
	}
	if origin == OriginSelection {
		s.remember(ctx, locationFor(name, f.Data))
	}
	return f, nil
}

// SelectLocation resolves the forecast for a location picked from search
// results or history and records it in history.
func (s *WeatherService) SelectLocation(ctx context.Context, loc models.Location) (Forecast, error) {
	name, err := validation.ValidateCity(loc.Name, s.opts.MaxCityLength)
	if err != nil {
		return Forecast{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	loc.Name = name
	f, err := s.resolve(ctx, name, OriginSelection)
	if err != nil {
		return Forecast{}, err
	}
	if loc.Country == "" && f.Data.Location != nil {
		loc.Country = f.Data.Location.Country
	}
	s.remember(ctx, loc)
	return f, nil
}

// Refresh re-resolves the most recently selected city, or the default city
// when history is empty. History is not changed.
func (s *WeatherService) Refresh(ctx context.Context) (Forecast, error) {
	return s.GetForecast(ctx, s.CurrentCity(), OriginRefresh)
}

// CurrentCity is the city Refresh would load.
func (s *WeatherService) CurrentCity() string {
	if latest, ok := s.history.Latest(); ok {
		return latest.Name
	}
	return s.opts.DefaultCity
}

// Prefetch fetches and caches city without touching history. Offline it is a
// no-op. Used by the cache warmer.
func (s *WeatherService) Prefetch(ctx context.Context, city string) error {
	if !s.conn.Online() {
		return nil
	}
	_, err := s.GetForecast(ctx, city, OriginBackground)
	return err
}

// SearchLocations returns provider suggestions for query. Queries of two
// characters or fewer return an empty list without a network call. Search
// has no cache or history side effects.
func (s *WeatherService) SearchLocations(ctx context.Context, query string) ([]models.Location, error) {
	if !s.conn.Online() {
		observability.SearchRequestsTotal.WithLabelValues("offline").Inc()
		return nil, ErrOfflineSearch
	}
	if len([]rune(strings.TrimSpace(query))) < s.opts.MinQueryLength {
		observability.SearchRequestsTotal.WithLabelValues("short_query").Inc()
		return []models.Location{}, nil
	}
	q, err := validation.ValidateQuery(query, s.opts.MaxCityLength)
	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	locations, err := s.client.Search(ctx, q)
	if err != nil {
		observability.SearchRequestsTotal.WithLabelValues("error").Inc()
		s.loggerFor(ctx).Warn("location search failed", zap.String("query", q), zap.Error(err))
		return nil, normalizeClientError(err)
	}
	observability.SearchRequestsTotal.WithLabelValues("network").Inc()
	if locations == nil {
		locations = []models.Location{}
	}
	return locations, nil
}

// History returns the recent selections, most recent first.
func (s *WeatherService) History() []models.Location {
	return s.history.Entries()
}

// ClearHistory empties the history. Failures are surfaced as ErrPersistence.
func (s *WeatherService) ClearHistory(ctx context.Context) error {
	if err := s.history.Clear(ctx); err != nil {
		s.loggerFor(ctx).Error("clear search history failed", zap.Error(err))
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	s.loggerFor(ctx).Info("search history cleared")
	return nil
}

func (s *WeatherService) resolve(ctx context.Context, city string, origin Origin) (f Forecast, err error) {
	logger := s.loggerFor(ctx)
	start := time.Now()
	observability.RecordForecastQuery(city)
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(KindOf(err))
		}
		observability.ForecastRequestsTotal.WithLabelValues(string(origin), outcome).Inc()
	}()

	if !s.conn.Online() {
		entry, ok := s.cache.Get(ctx, city)
		if !ok {
			logger.Info("offline with no fresh cache", zap.String("city", city), zap.String("origin", string(origin)))
			return Forecast{}, fmt.Errorf("%w: %s", ErrOfflineNoCache, city)
		}
		observability.OfflineServesTotal.Inc()
		traffic.RecordOfflineServe()
		logger.Info("serving cached forecast offline",
			zap.String("city", city),
			zap.Duration("age", time.Since(entry.StoredAt)))
		return Forecast{
			City:      city,
			Data:      entry.Payload,
			FromCache: true,
			Offline:   true,
			StoredAt:  entry.StoredAt,
		}, nil
	}

	data, err := s.client.Forecast(ctx, city, s.opts.ForecastDays)
	if err != nil {
		traffic.RecordError()
		err = normalizeClientError(err)
		logger.Warn("forecast fetch failed",
			zap.String("city", city),
			zap.String("kind", string(KindOf(err))),
			zap.Error(err))
		return Forecast{}, err
	}
	if !data.Complete() {
		traffic.RecordError()
		missing := data.MissingSections()
		logger.Warn("forecast response incomplete", zap.String("city", city), zap.Strings("missing", missing))
		return Forecast{}, fmt.Errorf("%w: missing %s", ErrIncompleteData, strings.Join(missing, ", "))
	}
	traffic.RecordSuccess()

	if putErr := s.cache.Put(ctx, city, data); putErr != nil {
		logger.Warn("forecast cache write failed", zap.String("city", city), zap.Error(putErr))
	}

	logger.Debug("forecast served",
		zap.String("city", city),
		zap.String("origin", string(origin)),
		zap.Duration("duration", time.Since(start)))
	return Forecast{City: city, Data: data, StoredAt: time.Now().UTC()}, nil
}

// remember adds loc to history. A failed write is logged; the forecast has
// already been resolved and is still returned.
func (s *WeatherService) remember(ctx context.Context, loc models.Location) {
	if err := s.history.Add(ctx, loc); err != nil {
		if !errors.Is(err, context.Canceled) {
			s.loggerFor(ctx).Warn("save search history failed", zap.String("city", loc.Name), zap.Error(err))
		}
	}
}

// locationFor builds the history entry for a city typed by the user, keeping
// the typed casing and filling provider details from the payload.
func locationFor(name string, data models.ForecastResult) models.Location {
	loc := models.Location{Name: name}
	if info := data.Location; info != nil {
		loc.Region = info.Region
		loc.Country = info.Country
		loc.Lat = info.Lat
		loc.Lon = info.Lon
	}
	return loc
}
