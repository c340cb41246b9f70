package logparse

import (
	"encoding/json"
	"testing"
	"time"
)

func TestCoerceStatusCode(t *testing.T) {
	cases := []struct {
		in   any
		want int
		ok   bool
	}{
		{200, 200, true},
		{float64(201.9), 201, true},
		{"404", 404, true},
		{" 503 ", 503, true},
		{json.Number("302"), 302, true},
		{999, 0, false},
		{"abc", 0, false},
		{50, 0, false},
		{nil, 0, false},
		{true, 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got := CoerceStatusCode(tc.in)
		if !tc.ok {
			if got != nil {
				t.Fatalf("CoerceStatusCode(%v) = %d, want nil", tc.in, *got)
			}
			continue
		}
		if got == nil || *got != tc.want {
			t.Fatalf("CoerceStatusCode(%v) = %v, want %d", tc.in, got, tc.want)
		}
	}
}

func TestToISOTimestampEpochUnits(t *testing.T) {
	seconds, ok := ToISOTimestamp(float64(1700000000))
	if !ok {
		t.Fatal("expected epoch seconds to parse")
	}
	millis, ok := ToISOTimestamp(int64(1700000000000))
	if !ok {
		t.Fatal("expected epoch millis to parse")
	}
	if seconds != millis {
		t.Fatalf("expected identical instants, got %s and %s", seconds, millis)
	}
	if seconds != "2023-11-14T22:13:20.000Z" {
		t.Fatalf("unexpected ISO rendering %s", seconds)
	}
}

func TestToISOTimestampStrings(t *testing.T) {
	cases := map[string]string{
		"10/Oct/2023:13:55:36 +0000":   "2023-10-10T13:55:36.000Z",
		"10/Oct/2023:15:55:36 +0200":   "2023-10-10T13:55:36.000Z",
		"2023-10-10T13:55:36Z":         "2023-10-10T13:55:36.000Z",
		"2023-10-10T13:55:36.250+00:00": "2023-10-10T13:55:36.250Z",
		"2023-10-10 13:55:36":          "2023-10-10T13:55:36.000Z",
		"1700000000":                   "2023-11-14T22:13:20.000Z",
	}
	for in, want := range cases {
		got, ok := ToISOTimestamp(in)
		if !ok || got != want {
			t.Fatalf("ToISOTimestamp(%q) = %q (%v), want %q", in, got, ok, want)
		}
	}
}

func TestToISOTimestampRejectsGarbage(t *testing.T) {
	for _, in := range []any{"not a date", "", nil, map[string]any{}, "12/Foo/2023:99:99:99"} {
		if got, ok := ToISOTimestamp(in); ok {
			t.Fatalf("ToISOTimestamp(%v) = %q, expected failure", in, got)
		}
	}
}

func TestFormatISOUsesUTC(t *testing.T) {
	loc := time.FixedZone("X", 3*3600)
	got := FormatISO(time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, loc))
	if got != "2024-01-02T00:04:05.006Z" {
		t.Fatalf("unexpected format %s", got)
	}
}
