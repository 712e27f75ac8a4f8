// Package temporal implements the date and duration arithmetic behind the
// now(), timestamp(), utctimestamp(), interval() and ms() literals.
//
// Durations keep calendar units (years, months) apart from fixed length
// units. Calendar units are applied to a reference date first, clamping the
// day to the end of the target month, and the fixed part is added after.
package temporal

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Duration is a signed offset made of calendar and fixed parts. The fixed
// part is Sec seconds plus Nsec nanoseconds with Nsec in [0, 1e9), which
// covers offsets far beyond the range of time.Duration.
type Duration struct {
	Years  int
	Months int
	Sec    int64
	Nsec   int64
}

// FromDuration returns a fixed duration
func FromDuration(d time.Duration) Duration {
	return normalize(Duration{Sec: int64(d / time.Second), Nsec: int64(d % time.Second)})
}

// Between returns the fixed duration a - b
func Between(a, b time.Time) Duration {
	return normalize(Duration{Sec: a.Unix() - b.Unix(), Nsec: int64(a.Nanosecond() - b.Nanosecond())})
}

func normalize(d Duration) Duration {
	d.Sec += floorDiv64(d.Nsec, nanosPerSecond)
	d.Nsec -= floorDiv64(d.Nsec, nanosPerSecond) * nanosPerSecond

	return d
}

type unit int

const (
	unitYear unit = iota
	unitMonth
	unitWeek
	unitDay
	unitHour
	unitMinute
	unitSecond
	unitMillisecond
	unitMicrosecond
)

var units = map[string]unit{
	"y": unitYear, "yr": unitYear, "yrs": unitYear, "year": unitYear, "years": unitYear,
	"mo": unitMonth, "mon": unitMonth, "month": unitMonth, "months": unitMonth,
	"w": unitWeek, "wk": unitWeek, "wks": unitWeek, "week": unitWeek, "weeks": unitWeek,
	"d": unitDay, "day": unitDay, "days": unitDay,
	"h": unitHour, "hr": unitHour, "hrs": unitHour, "hour": unitHour, "hours": unitHour,
	"m": unitMinute, "min": unitMinute, "mins": unitMinute, "minute": unitMinute, "minutes": unitMinute,
	"s": unitSecond, "sec": unitSecond, "secs": unitSecond, "second": unitSecond, "seconds": unitSecond,
	"ms": unitMillisecond, "msec": unitMillisecond, "millisecond": unitMillisecond, "milliseconds": unitMillisecond,
	"us": unitMicrosecond, "usec": unitMicrosecond, "microsecond": unitMicrosecond, "microseconds": unitMicrosecond,
}

const nanosPerSecond = int64(time.Second)

// secondUnits are the whole seconds of the units of a second or more
var secondUnits = map[unit]int64{
	unitWeek:   7 * 24 * 3600,
	unitDay:    24 * 3600,
	unitHour:   3600,
	unitMinute: 60,
	unitSecond: 1,
}

// subSecondUnits count how many of the unit make up one second
var subSecondUnits = map[unit]int64{
	unitMillisecond: 1000,
	unitMicrosecond: 1000000,
}

// ParseInterval parses whitespace or comma separated "<signed int><unit>"
// terms, such as "1y -2d 1month -3 weeks".
func ParseInterval(text string) (Duration, error) {
	var d Duration

	s := &scanner{input: text}
	terms := 0

	for {
		s.skipSeparators()

		if s.done() {
			break
		}

		count, err := s.readInt()
		if err != nil {
			return Duration{}, err
		}

		s.skipSpaces()

		name := s.readWord()
		if name == "" {
			return Duration{}, fmt.Errorf("invalid interval %q: missing unit after %d", text, count)
		}

		u, ok := units[strings.ToLower(name)]
		if !ok {
			return Duration{}, fmt.Errorf("invalid interval %q: unknown unit %q", text, name)
		}

		switch u {
		case unitYear:
			d.Years += count
		case unitMonth:
			d.Months += count
		default:
			d, err = d.addFixed(int64(count), u)
			if err != nil {
				return Duration{}, fmt.Errorf("invalid interval %q: %w", text, err)
			}
		}

		terms++
	}

	if terms == 0 {
		return Duration{}, fmt.Errorf("invalid interval %q: no terms", text)
	}

	return d, nil
}

func (d Duration) addFixed(count int64, u unit) (Duration, error) {
	if per, ok := subSecondUnits[u]; ok {
		d.Sec += count / per
		d.Nsec += count % per * (nanosPerSecond / per)

		return normalize(d), nil
	}

	per := secondUnits[u]
	if count > math.MaxInt64/per || count < math.MinInt64/per {
		return Duration{}, fmt.Errorf("%d is out of range", count)
	}

	sum := d.Sec + count*per
	if (count > 0 && sum < d.Sec) || (count < 0 && sum > d.Sec) {
		return Duration{}, fmt.Errorf("%d is out of range", count)
	}

	d.Sec = sum

	return d, nil
}

// Neg returns the opposite duration
func (d Duration) Neg() Duration {
	return normalize(Duration{Years: -d.Years, Months: -d.Months, Sec: -d.Sec, Nsec: -d.Nsec})
}

// Add sums two durations
func (d Duration) Add(o Duration) Duration {
	return normalize(Duration{Years: d.Years + o.Years, Months: d.Months + o.Months, Sec: d.Sec + o.Sec, Nsec: d.Nsec + o.Nsec})
}

// AddTo applies the duration to t
func (d Duration) AddTo(t time.Time) time.Time {
	t = addMonths(t, d.Years*12+d.Months)
	if d.Sec == 0 && d.Nsec == 0 {
		return t
	}

	return time.Unix(t.Unix()+d.Sec, int64(t.Nanosecond())+d.Nsec).In(t.Location())
}

// Seconds converts the duration to seconds, calendar units measured from ref
func (d Duration) Seconds(ref time.Time) float64 {
	end := d.AddTo(ref)

	return float64(end.Unix()-ref.Unix()) + float64(end.Nanosecond()-ref.Nanosecond())/1e9
}

func (d Duration) String() string {
	var parts []string

	if d.Years != 0 {
		parts = append(parts, fmt.Sprintf("%dy", d.Years))
	}

	if d.Months != 0 {
		parts = append(parts, fmt.Sprintf("%dmonth", d.Months))
	}

	if d.Sec != 0 || (d.Nsec == 0 && len(parts) == 0) {
		parts = append(parts, fmt.Sprintf("%ds", d.Sec))
	}

	if d.Nsec != 0 {
		parts = append(parts, fmt.Sprintf("%dus", d.Nsec/1000))
	}

	return strings.Join(parts, " ")
}

func addMonths(t time.Time, months int) time.Time {
	if months == 0 {
		return t
	}

	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	total := int(month) - 1 + months
	year += floorDiv(total, 12)
	month = time.Month(total - floorDiv(total, 12)*12 + 1)

	if last := daysIn(year, month, t.Location()); day > last {
		day = last
	}

	return time.Date(year, month, day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func floorDiv64(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}

	return q
}

var layouts = []string{
	"2006-1-2T15:04:05Z07:00",
	"2006-1-2 15:04:05Z07:00",
	"2006-1-2T15:04:05",
	"2006-1-2 15:04:05",
	"2006-1-2T15:04",
	"2006-1-2 15:04",
	"2006-1-2",
	"2006/1/2 15:04:05",
	"2006/1/2",
	"1/2/2006",
	"Jan 2 2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"January 2 2006",
	"January 2, 2006",
	time.RFC1123Z,
	time.RFC1123,
}

// ParseTimestamp parses a date/time string. Strings without a zone are read in loc.
// A plain number is taken as seconds since the epoch.
func ParseTimestamp(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)

	if f, err := strconv.ParseFloat(text, 64); err == nil {
		return FromSeconds(f).In(loc), nil
	}

	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, text, loc); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", text)
}

// Seconds returns t as fractional seconds since the epoch
func Seconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/1e9
}

// FromSeconds is the inverse of Seconds
func FromSeconds(f float64) time.Time {
	sec := math.Floor(f)
	nsec := math.Round((f - sec) * 1e9)

	return time.Unix(int64(sec), int64(nsec))
}

type scanner struct {
	input string
	pos   int
}

func (s *scanner) done() bool { return s.pos >= len(s.input) }

func (s *scanner) skipSeparators() {
	for !s.done() && (isSpace(s.input[s.pos]) || s.input[s.pos] == ',') {
		s.pos++
	}
}

func (s *scanner) skipSpaces() {
	for !s.done() && isSpace(s.input[s.pos]) {
		s.pos++
	}
}

func (s *scanner) readInt() (int, error) {
	start := s.pos

	if !s.done() && (s.input[s.pos] == '-' || s.input[s.pos] == '+') {
		s.pos++
	}

	for !s.done() && s.input[s.pos] >= '0' && s.input[s.pos] <= '9' {
		s.pos++
	}

	n, err := strconv.Atoi(s.input[start:s.pos])
	if err != nil {
		return 0, fmt.Errorf("invalid interval %q: expected a number at offset %d", s.input, start)
	}

	return n, nil
}

func (s *scanner) readWord() string {
	start := s.pos

	for !s.done() && isLetter(s.input[s.pos]) {
		s.pos++
	}

	return s.input[start:s.pos]
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r'
}

func isLetter(ch byte) bool {
	return 'a' <= ch && ch <= 'z' || 'A' <= ch && ch <= 'Z'
}
