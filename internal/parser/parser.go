package parser

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/saviobatista/geodata-pusher/internal/types"
)

// ErrMalformedFragment marks a fragment that cannot be turned into a record.
// It is recoverable: callers drop the fragment and keep scanning.
var ErrMalformedFragment = errors.New("malformed fragment")

// Sentinels used when a string field is absent from the source record
const (
	NoHex    = "no-hex-key"
	NoType   = "no-flight-type"
	NoFlight = "no-flight-name"
	NoR      = "no-r"
	NoT      = "no-t"
)

// Coordinate defaults and the values out-of-range coordinates snap to
const (
	DefaultLat = -89.0
	DefaultLon = -179.0

	MinLat = -90.0
	MaxLat = 90.0
	MinLon = -180.0
	MaxLon = 80.0

	SnapLatLow  = -89.0
	SnapLatHigh = 89.0
	SnapLonLow  = -179.0
	SnapLonHigh = 79.0
)

// FragmentID returns the hex MD5 digest of the untrimmed fragment text
func FragmentID(raw string) string {
	sum := md5.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TrimFragment strips the line terminator and optional trailing comma.
// "...},\n" loses two characters, "...}\n" loses one.
func TrimFragment(raw string) (string, error) {
	if len(raw) < 2 {
		return "", fmt.Errorf("%w: fragment too short (%d bytes)", ErrMalformedFragment, len(raw))
	}

	switch raw[len(raw)-2] {
	case ',':
		return raw[:len(raw)-2], nil
	case '}':
		return raw[:len(raw)-1], nil
	default:
		return "", fmt.Errorf("%w: unexpected terminator %q", ErrMalformedFragment, raw[len(raw)-2:])
	}
}

// ParseFragment normalizes one fragment into a flight record
func ParseFragment(raw string) (*types.FlightRecord, error) {
	body, err := TrimFragment(raw)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(strings.NewReader(body))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedFragment, err)
	}
	// the body must end with the object; a stray "}" or "]" is not valid JSON
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after object", ErrMalformedFragment)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformedFragment)
	}

	track, err := floatField(fields, "track", 0)
	if err != nil {
		return nil, err
	}
	lat, err := floatField(fields, "lat", DefaultLat)
	if err != nil {
		return nil, err
	}
	lon, err := floatField(fields, "lon", DefaultLon)
	if err != nil {
		return nil, err
	}

	lat = ClampLat(lat)
	lon = ClampLon(lon)

	return &types.FlightRecord{
		ID:      FragmentID(raw),
		Hex:     stringField(fields, "hex", NoHex),
		Type:    stringField(fields, "type", NoType),
		Flight:  stringField(fields, "flight", NoFlight),
		R:       stringField(fields, "r", NoR),
		T:       stringField(fields, "t", NoT),
		AltBaro: digitInt(fields, "alt_baro"),
		GS:      digitFloat(fields, "gs"),
		Track:   track,
		Lat:     lat,
		Lon:     lon,
		Geo:     types.NewPoint(lon, lat),
	}, nil
}

// ClampLat snaps latitudes outside [-90, 90] to -89 or 89
func ClampLat(lat float64) float64 {
	if lat < MinLat {
		return SnapLatLow
	}
	if lat > MaxLat {
		return SnapLatHigh
	}
	return lat
}

// ClampLon snaps longitudes outside [-180, 80] to -179 or 79
func ClampLon(lon float64) float64 {
	if lon < MinLon {
		return SnapLonLow
	}
	if lon > MaxLon {
		return SnapLonHigh
	}
	return lon
}

// lookup treats a JSON null the same as a missing key
func lookup(fields map[string]interface{}, key string) (interface{}, bool) {
	v, ok := fields[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func stringField(fields map[string]interface{}, key, sentinel string) string {
	v, ok := lookup(fields, key)
	if !ok {
		return sentinel
	}
	return render(v)
}

// render returns the textual form of a decoded JSON value
func render(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(val); err != nil {
			return fmt.Sprint(val)
		}
		return strings.TrimSuffix(buf.String(), "\n")
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// digitInt accepts only unsigned all-digit values; anything else becomes 0
func digitInt(fields map[string]interface{}, key string) int {
	v, ok := lookup(fields, key)
	if !ok {
		return 0
	}
	s := render(v)
	if !isDigits(s) {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// digitFloat shares digitInt's acceptance rule, so "452.3" yields 0
func digitFloat(fields map[string]interface{}, key string) float64 {
	v, ok := lookup(fields, key)
	if !ok {
		return 0
	}
	s := render(v)
	if !isDigits(s) {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// floatField converts numbers, numeric strings and booleans; other values are malformed
func floatField(fields map[string]interface{}, key string, def float64) (float64, error) {
	v, ok := lookup(fields, key)
	if !ok {
		return def, nil
	}

	var (
		f   float64
		err error
	)
	switch val := v.(type) {
	case json.Number:
		f, err = strconv.ParseFloat(val.String(), 64)
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(val), 64)
	case bool:
		if val {
			f = 1
		}
	default:
		return 0, fmt.Errorf("%w: field %s has non-numeric value %s", ErrMalformedFragment, key, render(v))
	}
	if err != nil {
		return 0, fmt.Errorf("%w: field %s: %v", ErrMalformedFragment, key, err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: field %s is not finite", ErrMalformedFragment, key)
	}
	return f, nil
}
