package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fluxopenhome/irrigation-core/internal/model"
)

type owmWeather struct {
	ID   int    `json:"id"`
	Main string `json:"main"`
}

type owmCurrent struct {
	Dt        int64        `json:"dt"`
	Temp      float64      `json:"temp"`
	Humidity  float64      `json:"humidity"`
	WindSpeed float64      `json:"wind_speed"`
	Pressure  float64      `json:"pressure"`
	Weather   []owmWeather `json:"weather"`
}

type owmDaily struct {
	Dt   int64 `json:"dt"`
	Temp struct {
		Day float64 `json:"day"`
	} `json:"temp"`
	Pop       float64      `json:"pop"` // 0..1
	Rain      float64      `json:"rain"`
	WindSpeed float64      `json:"wind_speed"`
	Weather   []owmWeather `json:"weather"`
}

type owmResp struct {
	Current owmCurrent `json:"current"`
	Daily   []owmDaily `json:"daily"`
}

// OpenWeatherClient fetches current conditions and the daily forecast
// from the OpenWeatherMap One Call API.
type OpenWeatherClient struct {
	apiKey string
	lat    float64
	lon    float64
	units  string // "imperial" or "metric"
	http   *http.Client
}

func NewOpenWeatherClient(apiKey string, lat, lon float64, units string) *OpenWeatherClient {
	if units != "metric" {
		units = "imperial"
	}
	return &OpenWeatherClient{
		apiKey: apiKey,
		lat:    lat,
		lon:    lon,
		units:  units,
		http:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *OpenWeatherClient) Fetch(ctx context.Context) (model.WeatherSnapshot, error) {
	if c.apiKey == "" {
		return model.WeatherSnapshot{}, fmt.Errorf("missing api key")
	}
	url := fmt.Sprintf(
		"https://api.openweathermap.org/data/3.0/onecall?lat=%f&lon=%f&exclude=minutely,hourly,alerts&units=%s&appid=%s",
		c.lat, c.lon, c.units, c.apiKey)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := c.http.Do(req)
	if err != nil {
		return model.WeatherSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return model.WeatherSnapshot{}, fmt.Errorf("owm status %d: %s", resp.StatusCode, string(b))
	}
	var out owmResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return model.WeatherSnapshot{}, err
	}

	snap := model.WeatherSnapshot{
		Condition:   conditionFor(out.Current.Weather),
		Temperature: out.Current.Temp,
		Humidity:    out.Current.Humidity,
		WindSpeed:   c.windSpeed(out.Current.WindSpeed),
		Pressure:    out.Current.Pressure,
		HasTemp:     true,
		HasHumidity: true,
		HasWind:     true,
		ObservedAt:  time.Unix(out.Current.Dt, 0),
	}
	if c.units == "metric" {
		snap.TempUnit = "°C"
		snap.WindUnit = "kph"
	} else {
		snap.TempUnit = "°F"
		snap.WindUnit = "mph"
	}
	for _, d := range out.Daily {
		snap.Forecast = append(snap.Forecast, model.ForecastPeriod{
			Start:             time.Unix(d.Dt, 0),
			Condition:         conditionFor(d.Weather),
			Temperature:       d.Temp.Day,
			PrecipProbability: d.Pop * 100,
			PrecipAmountMM:    d.Rain,
			WindSpeed:         c.windSpeed(d.WindSpeed),
		})
	}
	return snap, nil
}

// windSpeed normalizes OWM wind to the snapshot's unit. Metric responses
// carry m/s, imperial already carries mph.
func (c *OpenWeatherClient) windSpeed(v float64) float64 {
	if c.units == "metric" {
		return v * 3.6
	}
	return v
}

// conditionFor maps OWM condition codes onto the condition vocabulary
// the rain rules understand.
func conditionFor(ws []owmWeather) string {
	if len(ws) == 0 {
		return "unknown"
	}
	w := ws[0]
	switch {
	case w.ID >= 200 && w.ID < 300:
		return "lightning-rainy"
	case w.ID >= 502 && w.ID < 600:
		return "pouring"
	case w.ID >= 300 && w.ID < 400, w.ID >= 500 && w.ID < 502:
		return "rainy"
	case w.ID >= 600 && w.ID < 700:
		return "snowy"
	case w.ID == 800:
		return "sunny"
	case w.ID > 800:
		return "cloudy"
	default:
		return "unknown"
	}
}

var _ Client = (*OpenWeatherClient)(nil)
