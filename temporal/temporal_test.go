package temporal

import (
	"math"
	"testing"
	"time"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		input string
		want  Duration
	}{
		{"1 day", FromDuration(24 * time.Hour)},
		{"1 minute 1s", FromDuration(time.Minute + time.Second)},
		{"2h, 30m", FromDuration(2*time.Hour + 30*time.Minute)},
		{"1y -2d 1month -3 weeks 8 day 2h 3ms 10us", Duration{
			Years:  1,
			Months: 1,
			Sec:    -15*86400 + 2*3600,
			Nsec:   3010000,
		}},
		{"-1500ms", Duration{Sec: -2, Nsec: 500000000}},
		{"20000 weeks", Duration{Sec: 20000 * 7 * 86400}},
		{"+1 YEAR", Duration{Years: 1}},
	}

	for _, tt := range tests {
		got, err := ParseInterval(tt.input)
		if err != nil {
			t.Fatalf("ParseInterval(%q) unexpected error: %v", tt.input, err)
		}

		if got != tt.want {
			t.Errorf("ParseInterval(%q) = %#v, want %#v", tt.input, got, tt.want)
		}
	}
}

func TestParseIntervalErrors(t *testing.T) {
	for _, input := range []string{"", "day", "1 fortnight", "1", "9223372036854775807 weeks", "9223372036854775807s 1s"} {
		if _, err := ParseInterval(input); err == nil {
			t.Errorf("ParseInterval(%q) expected an error", input)
		}
	}
}

func TestIntervalArithmetic(t *testing.T) {
	ref, err := ParseTimestamp("2015-12-5", time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := Seconds(ref); got != 1449273600 {
		t.Fatalf("utcts 2015-12-5 = %f, want 1449273600", got)
	}

	d, err := ParseInterval("1y -2d 1month -3 weeks 8 day 2h 3ms 10us")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := Seconds(d.Neg().AddTo(ref))
	if math.Abs(got-1416434399.99699) > 1e-6 {
		t.Fatalf("ref - interval = %f, want 1416434399.99699", got)
	}

	d, err = ParseInterval("1 minute 1s")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := Seconds(d.AddTo(ref)); got != 1449273661 {
		t.Fatalf("ref + interval = %f, want 1449273661", got)
	}
}

func TestMonthArithmeticClampsDay(t *testing.T) {
	ref := time.Date(2015, time.January, 31, 12, 0, 0, 0, time.UTC)

	got := Duration{Months: 1}.AddTo(ref)
	want := time.Date(2015, time.February, 28, 12, 0, 0, 0, time.UTC)

	if !got.Equal(want) {
		t.Fatalf("Jan 31 + 1 month = %s, want %s", got, want)
	}

	got = Duration{Months: -13}.AddTo(ref)
	want = time.Date(2013, time.December, 31, 12, 0, 0, 0, time.UTC)

	if !got.Equal(want) {
		t.Fatalf("Jan 31 - 13 months = %s, want %s", got, want)
	}
}

func TestParseTimestamp(t *testing.T) {
	loc := time.FixedZone("test", -5*3600)

	tests := []struct {
		input string
		want  time.Time
	}{
		{"2015-12-05T10:30:00Z", time.Date(2015, 12, 5, 10, 30, 0, 0, time.UTC)},
		{"2015-12-05 10:30:00", time.Date(2015, 12, 5, 10, 30, 0, 0, loc)},
		{"Dec 5, 2015", time.Date(2015, 12, 5, 0, 0, 0, 0, loc)},
		{"1449273600", time.Unix(1449273600, 0)},
	}

	for _, tt := range tests {
		got, err := ParseTimestamp(tt.input, loc)
		if err != nil {
			t.Fatalf("ParseTimestamp(%q) unexpected error: %v", tt.input, err)
		}

		if !got.Equal(tt.want) {
			t.Errorf("ParseTimestamp(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}

	if _, err := ParseTimestamp("not a date", loc); err == nil {
		t.Fatalf("expected an error")
	}
}

func TestSecondsRoundTrip(t *testing.T) {
	ts := time.Unix(1416434399, 996990000)

	if got := FromSeconds(Seconds(ts)); got.Sub(ts).Abs() > time.Microsecond {
		t.Fatalf("FromSeconds(Seconds(%s)) = %s", ts, got)
	}
}

func TestLargeIntervals(t *testing.T) {
	ref := time.Date(2015, time.December, 5, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		input string
		want  float64
	}{
		{"20000 weeks", 1.2096e10},
		{"-20000 weeks", -1.2096e10},
		{"400000 days 1us", 400000*86400 + 1e-6},
	}

	for _, tt := range tests {
		d, err := ParseInterval(tt.input)
		if err != nil {
			t.Fatalf("ParseInterval(%q) unexpected error: %v", tt.input, err)
		}

		if got := d.Seconds(ref); math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("ParseInterval(%q).Seconds() = %f, want %f", tt.input, got, tt.want)
		}

		if got := Seconds(d.AddTo(ref)) - Seconds(ref); math.Abs(got-tt.want) > 1e-3 {
			t.Errorf("ref + %q moved %f seconds, want %f", tt.input, got, tt.want)
		}
	}
}

func TestBetween(t *testing.T) {
	a := time.Date(2015, time.December, 5, 0, 0, 0, 0, time.UTC)
	b := time.Date(1600, time.January, 1, 0, 0, 0, 500, time.UTC)

	want := float64(a.Unix()-b.Unix()) - 500e-9

	if got := Between(a, b).Seconds(a); math.Abs(got-want) > 1e-3 {
		t.Fatalf("Between(2015, 1600) = %f, want %f", got, want)
	}

	if got := Between(b, a).Seconds(a); math.Abs(got+want) > 1e-3 {
		t.Fatalf("Between(1600, 2015) = %f, want %f", got, -want)
	}

	if got := Between(a, b).Neg().AddTo(a); !got.Equal(b) {
		t.Fatalf("2015 - (2015 - 1600) = %s, want %s", got, b)
	}
}

func TestDurationString(t *testing.T) {
	d, err := ParseInterval("1y 2month -1500ms")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	back, err := ParseInterval(d.String())
	if err != nil {
		t.Fatalf("ParseInterval(%q) unexpected error: %v", d.String(), err)
	}

	if back != d {
		t.Fatalf("ParseInterval(%q) = %#v, want %#v", d.String(), back, d)
	}
}
