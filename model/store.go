package model

import (
	"fmt"
	"strings"
	"time"
)

// DaysOfWeek lists the opening-day flags of a store, Monday first.
var DaysOfWeek = []string{
	"montag",
	"dienstag",
	"mittwoch",
	"donnerstag",
	"freitag",
	"samstag",
	"sonntag",
}

// Store is a retail store with its owner, managers, and operating schedule.
type Store struct {
	ID          int64     `json:"id"           yaml:"id"`
	Name        string    `json:"name"         yaml:"name"`
	OwnerID     int64     `json:"owner"        yaml:"owner"`
	ManagerIDs  []int64   `json:"manager_ids"  yaml:"manager_ids"`
	Address     string    `json:"address"      yaml:"address"`
	City        string    `json:"city"         yaml:"city"`
	State       string    `json:"state_abbrv"  yaml:"state_abbrv"`
	PLZ         string    `json:"plz"          yaml:"plz"`
	Montag      bool      `json:"montag"       yaml:"montag"`
	Dienstag    bool      `json:"dienstag"     yaml:"dienstag"`
	Mittwoch    bool      `json:"mittwoch"     yaml:"mittwoch"`
	Donnerstag  bool      `json:"donnerstag"   yaml:"donnerstag"`
	Freitag     bool      `json:"freitag"      yaml:"freitag"`
	Samstag     bool      `json:"samstag"      yaml:"samstag"`
	Sonntag     bool      `json:"sonntag"      yaml:"sonntag"`
	OpeningTime TimeOfDay `json:"opening_time" yaml:"opening_time"`
	ClosingTime TimeOfDay `json:"closing_time" yaml:"closing_time"`
	CreatedAt   time.Time `json:"created_at"   yaml:"-"`
	UpdatedAt   time.Time `json:"updated_at"   yaml:"-"`
}

// OpenOn reports whether the store opens on the named day. Unknown day names
// report false.
func (s Store) OpenOn(day string) bool {
	switch day {
	case "montag":
		return s.Montag
	case "dienstag":
		return s.Dienstag
	case "mittwoch":
		return s.Mittwoch
	case "donnerstag":
		return s.Donnerstag
	case "freitag":
		return s.Freitag
	case "samstag":
		return s.Samstag
	case "sonntag":
		return s.Sonntag
	}
	return false
}

// Location formats the postal location of the store.
func (s Store) Location() string {
	return fmt.Sprintf("%s, %s, %s", s.Address, s.City, s.State)
}

// HasManager reports whether userID is one of the store managers.
func (s Store) HasManager(userID int64) bool {
	for _, id := range s.ManagerIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// User is an account that may own or manage stores.
type User struct {
	ID         int64     `json:"id"          yaml:"id"`
	Email      string    `json:"email"       yaml:"email"`
	FirstName  string    `json:"first_name"  yaml:"first_name"`
	LastName   string    `json:"last_name"   yaml:"last_name"`
	Superuser  bool      `json:"is_superuser" yaml:"superuser"`
	DateJoined time.Time `json:"date_joined" yaml:"-"`
}

// Name returns the display name of the user.
func (u User) Name() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// StoreDays is the opening-days projection of a store.
type StoreDays struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Montag     bool   `json:"montag"`
	Dienstag   bool   `json:"dienstag"`
	Mittwoch   bool   `json:"mittwoch"`
	Donnerstag bool   `json:"donnerstag"`
	Freitag    bool   `json:"freitag"`
	Samstag    bool   `json:"samstag"`
	Sonntag    bool   `json:"sonntag"`
}

// StoreHours is the operating-hours projection of a store.
type StoreHours struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	OpeningTime TimeOfDay `json:"opening_time"`
	ClosingTime TimeOfDay `json:"closing_time"`
}

// StoreManagers is the manager-assignment projection of a store.
type StoreManagers struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	ManagerIDs []int64 `json:"manager_ids"`
}

// DaysOf projects a store onto its opening days.
func DaysOf(s Store) StoreDays {
	return StoreDays{
		ID: s.ID, Name: s.Name,
		Montag: s.Montag, Dienstag: s.Dienstag, Mittwoch: s.Mittwoch,
		Donnerstag: s.Donnerstag, Freitag: s.Freitag, Samstag: s.Samstag,
		Sonntag: s.Sonntag,
	}
}

// HoursOf projects a store onto its operating hours.
func HoursOf(s Store) StoreHours {
	return StoreHours{ID: s.ID, Name: s.Name, OpeningTime: s.OpeningTime, ClosingTime: s.ClosingTime}
}

// ManagersOf projects a store onto its manager assignment.
func ManagersOf(s Store) StoreManagers {
	ids := s.ManagerIDs
	if ids == nil {
		ids = []int64{}
	}
	return StoreManagers{ID: s.ID, Name: s.Name, ManagerIDs: ids}
}

// ListResponse is one page of a filtered list view.
type ListResponse struct {
	Count    int    `json:"count"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
	Results  any    `json:"results"`
	Message  string `json:"message,omitempty"`
}

// ManagersUpdate is the request body of a manager update. ManagerIDs is the
// complete desired membership; nil means the key was absent.
type ManagersUpdate struct {
	ManagerIDs *[]int64 `json:"manager_ids"`
}

// ManagersUpdateResult reports the membership after a manager update and the
// changes that produced it.
type ManagersUpdateResult struct {
	StoreID    int64   `json:"store_id"`
	ManagerIDs []int64 `json:"manager_ids"`
	Added      []int64 `json:"added"`
	Removed    []int64 `json:"removed"`
	Message    string  `json:"message,omitempty"`
}

// ItemResponse is a single store projection with a usage hint.
type ItemResponse struct {
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}
