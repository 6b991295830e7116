package spot

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func sampleRecord() Record {
	return Record{
		Activator: strp("W1ABC"),
		Frequency: strp("14.230"),
		Grid4:     strp("FN42"),
		Mode:      strp("CW"),
		Name:      strp("Mount Washington State Park"),
		Reference: strp("K-0001"),
		SpotID:    i64p(12345),
		Spotter:   strp("W2XYZ"),
		SpotTime:  strp("2024-01-15T14:30:00"),
	}
}

func TestParseSampleRecord(t *testing.T) {
	t.Parallel()
	s, err := Parse(sampleRecord())
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if s.Callsign != "W1ABC" || s.Grid != "FN42" || s.Mode != "CW" || s.Spotter != "W2XYZ" {
		t.Fatalf("unexpected fields: %+v", s)
	}
	if s.Frequency != 14.23 {
		t.Fatalf("Frequency = %v, want 14.23", s.Frequency)
	}
	if s.ID != 12345 {
		t.Fatalf("ID = %d, want 12345", s.ID)
	}
	want := time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)
	if !s.Time.Equal(want) {
		t.Fatalf("Time = %v, want %v", s.Time, want)
	}
	if got := s.Key(); got != "W1ABC-14.23-CW" {
		t.Fatalf("Key = %q", got)
	}
	if got := s.String(); got != "W1ABC @ 14.23 CW\nK-0001 (Mount Washington State Park)" {
		t.Fatalf("String = %q", got)
	}
}

func TestFormatFrequency(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   float64
		want string
	}{
		{14.230, "14.23"},
		{7.074, "7.074"},
		{21.205, "21.205"},
		{14.0, "14.0"},
		{14074, "14074.0"},
		{7200.5, "7200.5"},
		{28.4, "28.4"},
	}
	for _, tt := range tests {
		if got := FormatFrequency(tt.in); got != tt.want {
			t.Fatalf("FormatFrequency(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParsedFrequencyKeepsWholeNumberSuffix(t *testing.T) {
	t.Parallel()
	tests := []struct {
		freq    string
		key     string
		summary string
	}{
		{"14.000", "W1ABC-14.0-CW", "W1ABC @ 14.0 CW\n"},
		{"14074", "W1ABC-14074.0-CW", "W1ABC @ 14074.0 CW\n"},
		{"7200.5", "W1ABC-7200.5-CW", "W1ABC @ 7200.5 CW\n"},
	}
	for _, tt := range tests {
		r := sampleRecord()
		r.Frequency = strp(tt.freq)
		s, err := Parse(r)
		if err != nil {
			t.Fatalf("Parse(%q): %v", tt.freq, err)
		}
		if got := s.Key(); got != tt.key {
			t.Fatalf("Key(%q) = %q, want %q", tt.freq, got, tt.key)
		}
		if got := s.String(); !strings.HasPrefix(got, tt.summary) {
			t.Fatalf("String(%q) = %q, want prefix %q", tt.freq, got, tt.summary)
		}
	}
}

func TestKeyIgnoresNonIdentityFields(t *testing.T) {
	t.Parallel()
	a, err := Parse(sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	r := sampleRecord()
	r.SpotID = i64p(99999)
	r.Spotter = strp("K9OTHER")
	r.SpotTime = strp("2024-01-15T15:00:00Z")
	r.Grid4 = strp("EM10")
	b, err := Parse(r)
	if err != nil {
		t.Fatal(err)
	}
	if a.Key() != b.Key() {
		t.Fatalf("keys differ: %q vs %q", a.Key(), b.Key())
	}

	r.Mode = strp("SSB")
	c, _ := Parse(r)
	if c.Key() == a.Key() {
		t.Fatal("mode must be part of the key")
	}
}

func TestParseTimestampVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw  string
		want time.Time
	}{
		{"2024-03-15T23:45:59", time.Date(2024, 3, 15, 23, 45, 59, 0, time.UTC)},
		{"2024-03-15T23:45:59.5", time.Date(2024, 3, 15, 23, 45, 59, 500000000, time.UTC)},
		{"2024-03-15T23:45:59Z", time.Date(2024, 3, 15, 23, 45, 59, 0, time.UTC)},
		{"2024-03-15T18:45:59-05:00", time.Date(2024, 3, 15, 23, 45, 59, 0, time.UTC)},
	}
	for _, tt := range tests {
		r := sampleRecord()
		r.SpotTime = strp(tt.raw)
		s, err := Parse(r)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", tt.raw, err)
		}
		if !s.Time.Equal(tt.want) {
			t.Fatalf("Parse(%q).Time = %v, want %v", tt.raw, s.Time, tt.want)
		}
	}
}

func TestParseRejectsMalformedRecords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(r *Record)
		want   error
	}{
		{"missing activator", func(r *Record) { r.Activator = nil }, ErrMissingField},
		{"empty activator", func(r *Record) { r.Activator = strp(" ") }, ErrMissingField},
		{"missing spot id", func(r *Record) { r.SpotID = nil }, ErrMissingField},
		{"missing reference", func(r *Record) { r.Reference = nil }, ErrMissingField},
		{"bad frequency", func(r *Record) { r.Frequency = strp("fourteen") }, ErrInvalidField},
		{"bad time", func(r *Record) { r.SpotTime = strp("yesterday") }, ErrInvalidField},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := sampleRecord()
			tt.mutate(&r)
			if _, err := Parse(r); !errors.Is(err, tt.want) {
				t.Fatalf("Parse err = %v, want %v", err, tt.want)
			}
		})
	}
}
