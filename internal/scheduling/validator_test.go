package scheduling_test

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/friendsincode/wateringd/internal/db/dbtest"
	"github.com/friendsincode/wateringd/internal/models"
	"github.com/friendsincode/wateringd/internal/scheduling"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

func newStores(t *testing.T) (*gorm.DB, *scheduling.LineStore, *scheduling.Validator) {
	t.Helper()
	db := dbtest.Open(t)
	return db, scheduling.NewLineStore(db, zerolog.Nop()), scheduling.NewValidator(db, zerolog.Nop())
}

func mustLine(t *testing.T, store *scheduling.LineStore, name string, channel int) *models.WateringLine {
	t.Helper()
	line, err := store.Create(context.Background(), scheduling.LineInput{Name: name, Channel: channel})
	if err != nil {
		t.Fatalf("create line %s: %v", name, err)
	}
	return line
}

func countWindows(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.ScheduleWindow{}).Count(&n).Error; err != nil {
		t.Fatalf("count windows: %v", err)
	}
	return n
}

func TestCheckAndInsertRejectsOverlapOnSharedDay(t *testing.T) {
	ctx := context.Background()
	db, lines, v := newStores(t)
	grass := mustLine(t, lines, "Grass", 7)

	if _, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:00", End: "07:00", Weekdays: []string{"Mon", "Wed"},
	}); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	_, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:30", End: "06:45", Weekdays: []string{"Wed", "Fri"},
	})
	var conflict *scheduling.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict error, got %v", err)
	}
	if !errors.Is(err, scheduling.ErrConflict) {
		t.Fatal("expected errors.Is(err, ErrConflict)")
	}
	if !reflect.DeepEqual(conflict.Days, []string{"Wed"}) {
		t.Fatalf("conflict days = %v, want [Wed]", conflict.Days)
	}
	if got := countWindows(t, db); got != 1 {
		t.Fatalf("expected no partial write, have %d windows", got)
	}

	if _, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:30", End: "06:45", Weekdays: []string{"Tue"},
	}); err != nil {
		t.Fatalf("disjoint weekday insert: %v", err)
	}
}

func TestCheckIsSymmetricAndHalfOpen(t *testing.T) {
	tests := []struct {
		name       string
		existing   [2]string
		candidate  [2]string
		wantReject bool
	}{
		{name: "contained", existing: [2]string{"06:00", "07:00"}, candidate: [2]string{"06:15", "06:30"}, wantReject: true},
		{name: "containing", existing: [2]string{"06:15", "06:30"}, candidate: [2]string{"06:00", "07:00"}, wantReject: true},
		{name: "overlap start", existing: [2]string{"06:00", "07:00"}, candidate: [2]string{"05:30", "06:01"}, wantReject: true},
		{name: "touching after", existing: [2]string{"06:00", "07:00"}, candidate: [2]string{"07:00", "08:00"}},
		{name: "touching before", existing: [2]string{"06:00", "07:00"}, candidate: [2]string{"05:00", "06:00"}},
		{name: "identical", existing: [2]string{"06:00", "07:00"}, candidate: [2]string{"06:00", "07:00"}, wantReject: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			_, lines, v := newStores(t)
			line := mustLine(t, lines, "Grass", 7)
			if _, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
				LineID: line.ID, Start: tt.existing[0], End: tt.existing[1], Weekdays: []string{"Mon"},
			}); err != nil {
				t.Fatalf("seed: %v", err)
			}
			_, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
				LineID: line.ID, Start: tt.candidate[0], End: tt.candidate[1], Weekdays: []string{"Mon"},
			})
			if got := errors.Is(err, scheduling.ErrConflict); got != tt.wantReject {
				t.Fatalf("rejected = %v (err %v), want %v", got, err, tt.wantReject)
			}
		})
	}
}

func TestConflictsAreGlobalAcrossLines(t *testing.T) {
	ctx := context.Background()
	_, lines, v := newStores(t)
	grass := mustLine(t, lines, "Grass", 7)
	beds := mustLine(t, lines, "Beds", 11)

	if _, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:00", End: "07:00", Weekdays: []string{"Mon"},
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: beds.ID, Start: "06:30", End: "07:30", Weekdays: []string{"Mon"},
	})
	if !errors.Is(err, scheduling.ErrConflict) {
		t.Fatalf("expected cross-line conflict, got %v", err)
	}
}

func TestCheckAndUpdateExcludesItself(t *testing.T) {
	ctx := context.Background()
	db, lines, v := newStores(t)
	grass := mustLine(t, lines, "Grass", 7)

	id, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:00", End: "07:00", Weekdays: []string{"Mon"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	other, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "08:00", End: "09:00", Weekdays: []string{"Mon"},
	})
	if err != nil {
		t.Fatalf("seed other: %v", err)
	}

	if err := v.CheckAndUpdate(ctx, id, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:30", End: "07:30", Weekdays: []string{"Mon", "Tue"},
	}); err != nil {
		t.Fatalf("update against itself: %v", err)
	}

	var stored models.ScheduleWindow
	if err := db.First(&stored, id).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if stored.StartTime != "06:30" || stored.EndTime != "07:30" || stored.RepeatDays != "Mon,Tue" {
		t.Fatalf("unexpected stored window %+v", stored)
	}

	err = v.CheckAndUpdate(ctx, other, scheduling.WindowInput{
		LineID: grass.ID, Start: "07:00", End: "08:30", Weekdays: []string{"Tue"},
	})
	if !errors.Is(err, scheduling.ErrConflict) {
		t.Fatalf("expected conflict on update, got %v", err)
	}
	if err := db.First(&stored, other).Error; err != nil {
		t.Fatalf("reload other: %v", err)
	}
	if stored.StartTime != "08:00" {
		t.Fatalf("rejected update was written: %+v", stored)
	}
}

func TestCheckAndInsertValidatesInput(t *testing.T) {
	ctx := context.Background()
	_, lines, v := newStores(t)
	grass := mustLine(t, lines, "Grass", 7)

	tests := []struct {
		name string
		in   scheduling.WindowInput
		want error
	}{
		{name: "start after end", in: scheduling.WindowInput{LineID: grass.ID, Start: "08:00", End: "07:00", Weekdays: []string{"Mon"}}, want: scheduling.ErrInvalidInput},
		{name: "empty window", in: scheduling.WindowInput{LineID: grass.ID, Start: "07:00", End: "07:00", Weekdays: []string{"Mon"}}, want: scheduling.ErrInvalidInput},
		{name: "bad time", in: scheduling.WindowInput{LineID: grass.ID, Start: "25:00", End: "26:00", Weekdays: []string{"Mon"}}, want: scheduling.ErrInvalidInput},
		{name: "no weekdays", in: scheduling.WindowInput{LineID: grass.ID, Start: "06:00", End: "07:00"}, want: scheduling.ErrInvalidInput},
		{name: "bad weekday", in: scheduling.WindowInput{LineID: grass.ID, Start: "06:00", End: "07:00", Weekdays: []string{"Funday"}}, want: scheduling.ErrInvalidInput},
		{name: "unknown line", in: scheduling.WindowInput{LineID: 999, Start: "06:00", End: "07:00", Weekdays: []string{"Mon"}}, want: scheduling.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.CheckAndInsert(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDeleteWindow(t *testing.T) {
	ctx := context.Background()
	db, lines, v := newStores(t)
	grass := mustLine(t, lines, "Grass", 7)
	id, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:00", End: "07:00", Weekdays: []string{"Mon"},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	if err := v.DeleteWindow(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := countWindows(t, db); got != 0 {
		t.Fatalf("expected 0 windows, have %d", got)
	}
	if err := v.DeleteWindow(ctx, id); !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestCheckParsesUnpaddedStoredTimes(t *testing.T) {
	ctx := context.Background()
	db, lines, v := newStores(t)
	grass := mustLine(t, lines, "Grass", 7)

	// Rows carried over from older databases may lack zero padding.
	legacy := models.ScheduleWindow{WateringLineID: grass.ID, StartTime: "6:00", EndTime: "7:00", RepeatDays: "Mon"}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("insert legacy row: %v", err)
	}

	_, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "06:30", End: "06:45", Weekdays: []string{"Mon"},
	})
	var conflict *scheduling.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict with 6:00-7:00, got %v", err)
	}
	if !reflect.DeepEqual(conflict.WindowIDs, []uint{legacy.ID}) {
		t.Fatalf("conflict windows = %v, want [%d]", conflict.WindowIDs, legacy.ID)
	}

	if _, err := v.CheckAndInsert(ctx, scheduling.WindowInput{
		LineID: grass.ID, Start: "07:00", End: "08:00", Weekdays: []string{"Mon"},
	}); err != nil {
		t.Fatalf("adjacent window after legacy row: %v", err)
	}
}
