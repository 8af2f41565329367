package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// NotAvailable marks a weekday the dentist does not work.
const NotAvailable = "Not Available"

// Dentist is one roster entry. WorkingHours is keyed by lower-case weekday
// name ("monday") with values like "09:00 - 17:00" or "Not Available".
type Dentist struct {
	Code         string            `json:"code"`
	Name         string            `json:"name"`
	Active       bool              `json:"active"`
	WorkingHours map[string]string `json:"working_hours"`
}

func WeekdayKey(w time.Weekday) string {
	return strings.ToLower(w.String())
}

// StaticDirectory is an in-memory roster for tests and memory mode.
type StaticDirectory struct {
	mu       sync.RWMutex
	dentists map[string]Dentist
}

func NewStatic(dentists ...Dentist) *StaticDirectory {
	d := &StaticDirectory{dentists: make(map[string]Dentist, len(dentists))}
	for _, dentist := range dentists {
		d.Put(dentist)
	}
	return d
}

// LoadFile reads a JSON array of dentists.
func LoadFile(path string) (*StaticDirectory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read directory file: %w", err)
	}
	var dentists []Dentist
	if err := json.Unmarshal(data, &dentists); err != nil {
		return nil, fmt.Errorf("parse directory file %s: %w", path, err)
	}
	for _, dentist := range dentists {
		if strings.TrimSpace(dentist.Code) == "" {
			return nil, fmt.Errorf("directory file %s: dentist without code", path)
		}
	}
	return NewStatic(dentists...), nil
}

func (d *StaticDirectory) Put(dentist Dentist) {
	hours := make(map[string]string, len(dentist.WorkingHours))
	for day, v := range dentist.WorkingHours {
		hours[strings.ToLower(day)] = v
	}
	dentist.WorkingHours = hours

	d.mu.Lock()
	d.dentists[dentist.Code] = dentist
	d.mu.Unlock()
}

// WorkingHours returns "" for unknown dentists and unlisted weekdays, which
// the resolver reads as unavailable.
func (d *StaticDirectory) WorkingHours(_ context.Context, dentistCode string, weekday time.Weekday) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dentists[dentistCode].WorkingHours[WeekdayKey(weekday)], nil
}

func (d *StaticDirectory) IsActive(_ context.Context, dentistCode string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.dentists[dentistCode].Active, nil
}

func (d *StaticDirectory) List() []Dentist {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Dentist, 0, len(d.dentists))
	for _, dentist := range d.dentists {
		out = append(out, dentist)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
