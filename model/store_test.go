package model

import (
	"encoding/json"
	"testing"
)

func TestParseTimeOfDay_accepts(t *testing.T) {
	want := TimeOfDay{Hour: 9}
	for _, in := range []string{"9:0", "09:00", "09:00:00", "9:00", "9:0:0"} {
		got, err := ParseTimeOfDay(in)
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParseTimeOfDay(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestParseTimeOfDay_rejects(t *testing.T) {
	for _, in := range []string{"24:00", "09:60", "9", "0900", "25:00", "09:00:60", "", "ab:cd", "09:00:00.5", "1:2:3:4", "-1:00"} {
		if _, err := ParseTimeOfDay(in); err == nil {
			t.Errorf("ParseTimeOfDay(%q) succeeded, want error", in)
		}
	}
}

func TestTimeOfDay_Compare(t *testing.T) {
	a := MustTimeOfDay("08:00:01")
	b := MustTimeOfDay("09:00")
	if a.Compare(b) != -1 || b.Compare(a) != 1 || a.Compare(a) != 0 {
		t.Errorf("Compare gave inconsistent ordering for %v and %v", a, b)
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	h := HoursOf(Store{ID: 1, Name: "Test Store", OpeningTime: MustTimeOfDay("9:0"), ClosingTime: MustTimeOfDay("17:30")})
	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `{"id":1,"name":"Test Store","opening_time":"09:00:00","closing_time":"17:30:00"}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var back StoreHours
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if back.ClosingTime != MustTimeOfDay("17:30:00") {
		t.Errorf("ClosingTime = %v", back.ClosingTime)
	}
}

func TestStore_OpenOn(t *testing.T) {
	s := Store{Montag: true, Sonntag: true}
	if !s.OpenOn("montag") || !s.OpenOn("sonntag") {
		t.Error("OpenOn should report set days")
	}
	if s.OpenOn("dienstag") || s.OpenOn("monday") {
		t.Error("OpenOn should be false for unset or unknown days")
	}
}

func TestManagersOf_nil_ids(t *testing.T) {
	m := ManagersOf(Store{ID: 2, Name: "Empty"})
	if m.ManagerIDs == nil || len(m.ManagerIDs) != 0 {
		t.Errorf("ManagerIDs = %v, want empty non-nil slice", m.ManagerIDs)
	}
}

func TestStore_HasManager(t *testing.T) {
	s := Store{ManagerIDs: []int64{3, 4}}
	if !s.HasManager(4) {
		t.Error("HasManager(4) = false, want true")
	}
	if s.HasManager(5) {
		t.Error("HasManager(5) = true, want false")
	}
}

func TestStore_Location(t *testing.T) {
	s := Store{Address: "123 Main St", City: "Test City", State: "BE"}
	if got := s.Location(); got != "123 Main St, Test City, BE" {
		t.Errorf("Location() = %q", got)
	}
}
