package models_test

import (
	"reflect"
	"testing"

	"github.com/friendsincode/wateringd/internal/db/dbtest"
	"github.com/friendsincode/wateringd/internal/models"
)

func TestSplitAndJoinDays(t *testing.T) {
	got := models.SplitDays(" Mon,,Wed ,Fri")
	if want := []string{"Mon", "Wed", "Fri"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitDays = %v, want %v", got, want)
	}
	if models.JoinDays(got) != "Mon,Wed,Fri" {
		t.Fatalf("JoinDays = %q", models.JoinDays(got))
	}
	if len(models.SplitDays("")) != 0 {
		t.Fatal("expected no days for empty column")
	}
}

func TestSettingsUpsert(t *testing.T) {
	database := dbtest.Open(t)

	s, err := models.GetSetting(database, "probe", "a")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if s.Value != "a" {
		t.Fatalf("expected default to be stored, got %q", s.Value)
	}

	if err := models.PutSetting(database, "probe", "b"); err != nil {
		t.Fatalf("PutSetting: %v", err)
	}
	s, err = models.GetSetting(database, "probe", "a")
	if err != nil {
		t.Fatalf("GetSetting: %v", err)
	}
	if s.Value != "b" {
		t.Fatalf("expected upserted value, got %q", s.Value)
	}
}
