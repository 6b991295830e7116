package spot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidField = errors.New("invalid field")
)

// Record is one raw element of the upstream spot API response.
//
// Fields are pointers so a missing key can be told apart from a zero value.
// Unknown keys are ignored; the upstream adds fields over time.
type Record struct {
	Activator *string `json:"activator"`
	Frequency *string `json:"frequency"`
	Grid4     *string `json:"grid4"`
	Mode      *string `json:"mode"`
	Name      *string `json:"name"`
	Reference *string `json:"reference"`
	SpotID    *int64  `json:"spotId"`
	Spotter   *string `json:"spotter"`
	SpotTime  *string `json:"spotTime"`
}

// Spot is an activation report. It is a value type and is never mutated
// after Parse returns it.
type Spot struct {
	Callsign  string
	Frequency float64 // MHz
	Grid      string
	Mode      string
	Name      string
	Reference string
	ID        int64
	Spotter   string
	Time      time.Time
}

// spotTime layouts, most specific first. The upstream reports UTC without a zone suffix.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// Parse validates a raw record and builds a Spot from it.
func Parse(r Record) (Spot, error) {
	var missing []string
	req := func(name string, v *string) string {
		if v == nil {
			missing = append(missing, name)
			return ""
		}
		return *v
	}

	s := Spot{
		Callsign:  strings.TrimSpace(req("activator", r.Activator)),
		Grid:      req("grid4", r.Grid4),
		Mode:      strings.TrimSpace(req("mode", r.Mode)),
		Name:      req("name", r.Name),
		Reference: req("reference", r.Reference),
		Spotter:   req("spotter", r.Spotter),
	}
	freq := req("frequency", r.Frequency)
	ts := req("spotTime", r.SpotTime)
	if r.SpotID == nil {
		missing = append(missing, "spotId")
	} else {
		s.ID = *r.SpotID
	}
	if len(missing) > 0 {
		return Spot{}, fmt.Errorf("%w: %s", ErrMissingField, strings.Join(missing, ","))
	}
	if s.Callsign == "" {
		return Spot{}, fmt.Errorf("%w: activator is empty", ErrMissingField)
	}
	if s.Mode == "" {
		return Spot{}, fmt.Errorf("%w: mode is empty", ErrMissingField)
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(freq), 64)
	if err != nil {
		return Spot{}, fmt.Errorf("%w: frequency %q: %v", ErrInvalidField, freq, err)
	}
	s.Frequency = f

	t, err := parseTime(ts)
	if err != nil {
		return Spot{}, fmt.Errorf("%w: spotTime %q", ErrInvalidField, ts)
	}
	s.Time = t
	return s, nil
}

func parseTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		t, err = time.ParseInLocation(layout, raw, time.UTC)
		if err == nil {
			return t, nil
		}
	}
	return time.Time{}, err
}

// FormatFrequency renders f with the fewest digits that round-trip and keeps
// a trailing ".0" on whole numbers: 14.230 becomes "14.23", 14074 becomes
// "14074.0". Keys and relayed text both depend on this exact form.
func FormatFrequency(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if math.IsNaN(f) || math.IsInf(f, 0) || strings.ContainsAny(s, ".e") {
		return s
	}
	return s + ".0"
}

// Key identifies an activation for dedup purposes: callsign, frequency and mode.
// Spots that differ only in id, spotter, time or grid share a key.
func (s Spot) Key() string {
	return s.Callsign + "-" + FormatFrequency(s.Frequency) + "-" + s.Mode
}

// String is the two-line summary relayed to the mesh.
func (s Spot) String() string {
	return s.Callsign + " @ " + FormatFrequency(s.Frequency) + " " + s.Mode + "\n" + s.Reference + " (" + s.Name + ")"
}

// Decode parses one raw JSON element of the upstream response.
func Decode(raw []byte) (Spot, error) {
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Spot{}, fmt.Errorf("%w: %v", ErrInvalidField, err)
	}
	return Parse(r)
}
