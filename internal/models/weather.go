package models

import "strings"

// Location is a city candidate returned by the provider's search endpoint or
// carried in a forecast payload. Identity for caching and history is Name,
// compared case-insensitively.
type Location struct {
	ID      int64   `json:"id,omitempty"`
	Name    string  `json:"name"`
	Region  string  `json:"region,omitempty"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
	URL     string  `json:"url,omitempty"`
}

// Key returns the normalized identity of the location.
func (l Location) Key() string {
	return NormalizeCity(l.Name)
}

// NormalizeCity trims whitespace and lowercases a city name for use as a cache
// or history key. Display code keeps the original casing.
func NormalizeCity(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ForecastResult is the provider's forecast payload. Current, Location and
// Forecast are pointers so that a section missing from the response can be
// told apart from a zero-valued one.
type ForecastResult struct {
	Location *LocationInfo `json:"location,omitempty"`
	Current  *Current      `json:"current,omitempty"`
	Forecast *Forecast     `json:"forecast,omitempty"`
	Alerts   *Alerts       `json:"alerts,omitempty"`
}

// Complete reports whether all three required sections are present.
func (f ForecastResult) Complete() bool {
	return f.Current != nil && f.Location != nil && f.Forecast != nil
}

// MissingSections lists the names of required sections absent from the payload.
func (f ForecastResult) MissingSections() []string {
	var missing []string
	if f.Current == nil {
		missing = append(missing, "current")
	}
	if f.Location == nil {
		missing = append(missing, "location")
	}
	if f.Forecast == nil {
		missing = append(missing, "forecast")
	}
	return missing
}

type LocationInfo struct {
	Name           string  `json:"name"`
	Region         string  `json:"region"`
	Country        string  `json:"country"`
	Lat            float64 `json:"lat"`
	Lon            float64 `json:"lon"`
	TzID           string  `json:"tz_id"`
	LocaltimeEpoch int64   `json:"localtime_epoch"`
	Localtime      string  `json:"localtime"`
}

type Condition struct {
	Text string `json:"text"`
	Icon string `json:"icon"`
	Code int    `json:"code"`
}

type Current struct {
	LastUpdatedEpoch int64       `json:"last_updated_epoch"`
	TempC            float64     `json:"temp_c"`
	TempF            float64     `json:"temp_f"`
	IsDay            int         `json:"is_day"`
	Condition        Condition   `json:"condition"`
	WindKph          float64     `json:"wind_kph"`
	WindMph          float64     `json:"wind_mph"`
	WindDir          string      `json:"wind_dir"`
	PressureMb       float64     `json:"pressure_mb"`
	PrecipMm         float64     `json:"precip_mm"`
	Humidity         int         `json:"humidity"`
	Cloud            int         `json:"cloud"`
	FeelsLikeC       float64     `json:"feelslike_c"`
	FeelsLikeF       float64     `json:"feelslike_f"`
	VisKm            float64     `json:"vis_km"`
	UV               float64     `json:"uv"`
	AirQuality       *AirQuality `json:"air_quality,omitempty"`
}

type AirQuality struct {
	CO           float64 `json:"co"`
	NO2          float64 `json:"no2"`
	O3           float64 `json:"o3"`
	SO2          float64 `json:"so2"`
	PM25         float64 `json:"pm2_5"`
	PM10         float64 `json:"pm10"`
	USEPAIndex   int     `json:"us-epa-index"`
	GBDefraIndex int     `json:"gb-defra-index"`
}

type Forecast struct {
	ForecastDay []ForecastDay `json:"forecastday"`
}

type ForecastDay struct {
	Date      string `json:"date"`
	DateEpoch int64  `json:"date_epoch"`
	Day       Day    `json:"day"`
	Astro     Astro  `json:"astro"`
}

type Day struct {
	MaxTempC          float64   `json:"maxtemp_c"`
	MaxTempF          float64   `json:"maxtemp_f"`
	MinTempC          float64   `json:"mintemp_c"`
	MinTempF          float64   `json:"mintemp_f"`
	AvgTempC          float64   `json:"avgtemp_c"`
	AvgTempF          float64   `json:"avgtemp_f"`
	MaxWindKph        float64   `json:"maxwind_kph"`
	TotalPrecipMm     float64   `json:"totalprecip_mm"`
	AvgHumidity       float64   `json:"avghumidity"`
	DailyChanceOfRain int       `json:"daily_chance_of_rain"`
	DailyChanceOfSnow int       `json:"daily_chance_of_snow"`
	Condition         Condition `json:"condition"`
	UV                float64   `json:"uv"`
}

type Astro struct {
	Sunrise  string `json:"sunrise"`
	Sunset   string `json:"sunset"`
	Moonrise string `json:"moonrise"`
	Moonset  string `json:"moonset"`
}

type Alerts struct {
	Alert []Alert `json:"alert"`
}

type Alert struct {
	Headline    string `json:"headline"`
	Severity    string `json:"severity"`
	Event       string `json:"event"`
	Effective   string `json:"effective"`
	Expires     string `json:"expires"`
	Description string `json:"desc"`
}
