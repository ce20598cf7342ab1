// Package locator resolves node IP addresses to a rough geolocation for
// display on the dashboard, matching spec §4.3. It caches every answer
// (including "not found") so the same IP is never looked up twice, and
// bounds concurrent lookups so a burst of new nodes can't open hundreds
// of outbound requests at once.
package locator

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/odin-telemetry/core/internal/telemetry"
)

// MaxConcurrentLookups caps simultaneous outbound location requests.
const MaxConcurrentLookups = 4

// Result is what the locator hands back to the aggregator once a lookup
// completes, tagged with the id the caller requested it under.
type Result[Id any] struct {
	Id       Id
	Location *telemetry.Location // nil if no location could be found
}

// Locator looks up and caches IP geolocations.
type Locator[Id any] struct {
	client *http.Client
	logger zerolog.Logger

	mu    sync.RWMutex
	cache map[string]*telemetry.Location // nil value cached entry means "not found"

	sem chan struct{}
}

// New returns a Locator seeded with the loopback-to-Berlin entry the
// original telemetry backend always ships with, so local development
// never has to hit the network to get a location.
func New[Id any](logger zerolog.Logger) *Locator[Id] {
	l := &Locator[Id]{
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.With().Str("component", "locator").Logger(),
		cache:  make(map[string]*telemetry.Location),
		sem:    make(chan struct{}, MaxConcurrentLookups),
	}
	l.cache["127.0.0.1"] = &telemetry.Location{Latitude: 52.5166667, Longitude: 13.4, City: "Berlin"}
	return l
}

// Requests dispatches a geolocation lookup for every (id, ip) pair that
// arrives on in, sending each Result to out as it resolves. It blocks
// until in is closed, and should be run in its own goroutine.
func (l *Locator[Id]) Requests(ctx context.Context, in <-chan struct {
	Id Id
	IP net.IP
}, out chan<- Result[Id]) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-in:
			if !ok {
				return
			}
			select {
			case l.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-l.sem }()
				loc := l.Locate(ctx, req.IP)
				select {
				case out <- Result[Id]{Id: req.Id, Location: loc}:
				case <-ctx.Done():
				}
			}()
		}
	}
}

// Locate resolves ip to a location, consulting the cache first.
func (l *Locator[Id]) Locate(ctx context.Context, ip net.IP) *telemetry.Location {
	key := ip.String()

	l.mu.RLock()
	cached, ok := l.cache[key]
	l.mu.RUnlock()
	if ok {
		return cached
	}

	loc := l.queryIpapiCo(ctx, key)
	if loc == nil {
		loc = l.queryIpinfoIo(ctx, key)
	}

	l.mu.Lock()
	l.cache[key] = loc
	l.mu.Unlock()
	return loc
}

type ipapiCoResponse struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	City      string  `json:"city"`
	Error     bool    `json:"error"`
}

func (l *Locator[Id]) queryIpapiCo(ctx context.Context, ip string) *telemetry.Location {
	var resp ipapiCoResponse
	if !l.get(ctx, "https://ipapi.co/"+ip+"/json", &resp) || resp.Error {
		return nil
	}
	return &telemetry.Location{Latitude: resp.Latitude, Longitude: resp.Longitude, City: resp.City}
}

type ipinfoIoResponse struct {
	City string `json:"city"`
	Loc  string `json:"loc"`
}

func (l *Locator[Id]) queryIpinfoIo(ctx context.Context, ip string) *telemetry.Location {
	var resp ipinfoIoResponse
	if !l.get(ctx, "https://ipinfo.io/"+ip+"/json", &resp) {
		return nil
	}
	return parseIpinfoLocation(resp)
}

// parseIpinfoLocation converts the "lat,lon" string ipinfo.io returns into
// a Location, rejecting anything that isn't exactly two comma-separated
// floats.
func parseIpinfoLocation(resp ipinfoIoResponse) *telemetry.Location {
	parts := strings.Split(resp.Loc, ",")
	if len(parts) != 2 {
		return nil
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil
	}
	return &telemetry.Location{Latitude: lat, Longitude: lon, City: resp.City}
}

func (l *Locator[Id]) get(ctx context.Context, url string, out any) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Debug().Err(err).Str("url", url).Msg("location request failed")
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		l.logger.Debug().Err(err).Str("url", url).Msg("location response decode failed")
		return false
	}
	return true
}
