package clock

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func fixed(hh, mm int) Clock {
	// 2026-01-05 is a Monday.
	return Func(func() time.Time { return time.Date(2026, 1, 5, hh, mm, 30, 0, time.Local) })
}

func TestCalendarNowTimeAndToday(t *testing.T) {
	cal := NewCalendar(fixed(6, 5))
	if got := cal.NowTime(); got != "06:05" {
		t.Fatalf("NowTime() = %q", got)
	}
	if got := cal.Today(); got != "Mon" {
		t.Fatalf("Today() = %q", got)
	}
}

func TestIsWithinBoundaries(t *testing.T) {
	tests := []struct {
		name   string
		hh, mm int
		want   bool
	}{
		{name: "before start", hh: 5, mm: 59, want: false},
		{name: "at start", hh: 6, mm: 0, want: true},
		{name: "strictly between", hh: 6, mm: 30, want: true},
		{name: "last minute", hh: 6, mm: 59, want: true},
		{name: "at end", hh: 7, mm: 0, want: false},
		{name: "after end", hh: 23, mm: 0, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cal := NewCalendar(fixed(tt.hh, tt.mm))
			if got := cal.IsWithin("06:00", "07:00"); got != tt.want {
				t.Errorf("IsWithin(06:00, 07:00) at %s = %v, want %v", cal.NowTime(), got, tt.want)
			}
		})
	}
}

func TestOverlapsIsSymmetric(t *testing.T) {
	windows := [][2]string{
		{"06:00", "07:00"}, {"06:30", "08:00"}, {"07:00", "07:30"},
		{"05:00", "06:00"}, {"00:00", "23:59"}, {"06:15", "06:45"},
	}
	for _, a := range windows {
		for _, b := range windows {
			if Overlaps(a[0], a[1], b[0], b[1]) != Overlaps(b[0], b[1], a[0], a[1]) {
				t.Errorf("Overlaps not symmetric for %v and %v", a, b)
			}
		}
	}
	if Overlaps("06:00", "07:00", "07:00", "08:00") {
		t.Error("touching windows must not overlap")
	}
	if !Overlaps("06:00", "07:00", "06:30", "08:00") {
		t.Error("expected overlap")
	}
}

func TestParseTime(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "06:00", want: "06:00"},
		{in: "6:05", want: "06:05"},
		{in: " 23:59 ", want: "23:59"},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "1200", wantErr: true},
		{in: "12:5", wantErr: true},
		{in: "ab:cd", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTime(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidTime) {
					t.Fatalf("ParseTime(%q) err = %v, want ErrInvalidTime", tt.in, err)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Fatalf("ParseTime(%q) = %q, %v; want %q", tt.in, got, err, tt.want)
			}
		})
	}
}

func TestNormalizeWeekdays(t *testing.T) {
	got, err := NormalizeWeekdays([]string{"fri", "Monday", "MON", " Wed "})
	if err != nil {
		t.Fatalf("NormalizeWeekdays: %v", err)
	}
	if want := []string{"Mon", "Wed", "Fri"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("NormalizeWeekdays = %v, want %v", got, want)
	}

	if _, err := NormalizeWeekdays(nil); !errors.Is(err, ErrNoWeekdays) {
		t.Fatalf("empty set err = %v", err)
	}
	if _, err := NormalizeWeekdays([]string{"Funday"}); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("bad day err = %v", err)
	}
	if _, err := NormalizeWeekdays([]string{"Mo"}); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("short day err = %v", err)
	}
}
