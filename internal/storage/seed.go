package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/storefront/internal/schema"
	"github.com/pitabwire/storefront/model"
)

// Seed is the fixture format loaded into a fresh store.
type Seed struct {
	Users  []model.User  `yaml:"users"`
	Stores []model.Store `yaml:"stores"`
}

// LoadSeed reads a YAML seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and checks seed data.
func ParseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return nil, err
	}
	return &seed, nil
}

// Validate checks ids and references within the seed.
func (s *Seed) Validate() error {
	var errs []error
	users := make(map[int64]bool, len(s.Users))
	for _, u := range s.Users {
		switch {
		case u.ID < 1:
			errs = append(errs, fmt.Errorf("user %q: id must be positive", u.Email))
		case users[u.ID]:
			errs = append(errs, fmt.Errorf("user %d declared twice", u.ID))
		case u.Email == "":
			errs = append(errs, fmt.Errorf("user %d: email is required", u.ID))
		}
		users[u.ID] = true
	}
	stores := make(map[int64]bool, len(s.Stores))
	for _, st := range s.Stores {
		if st.ID < 1 {
			errs = append(errs, fmt.Errorf("store %q: id must be positive", st.Name))
		}
		if stores[st.ID] {
			errs = append(errs, fmt.Errorf("store %d declared twice", st.ID))
		}
		stores[st.ID] = true
		if !users[st.OwnerID] {
			errs = append(errs, fmt.Errorf("store %d: owner %d is not a seeded user", st.ID, st.OwnerID))
		}
		for _, m := range st.ManagerIDs {
			if !users[m] {
				errs = append(errs, fmt.Errorf("store %d: manager %d is not a seeded user", st.ID, m))
			}
		}
		if !schema.ValidState(st.State) {
			errs = append(errs, fmt.Errorf("store %d: unknown state %q", st.ID, st.State))
		}
	}
	return errors.Join(errs...)
}

// Seeder is implemented by stores that can load a Seed.
type Seeder interface {
	Seed(ctx context.Context, seed *Seed) error
}

// Seed loads users then stores.
func (s *MemoryStore) Seed(_ context.Context, seed *Seed) error {
	for _, u := range seed.Users {
		s.PutUser(u)
	}
	for _, st := range seed.Stores {
		if err := s.PutStore(st); err != nil {
			return err
		}
	}
	return nil
}
