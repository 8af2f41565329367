package appointment

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
)

type PatientKind string

const (
	PatientRegistered  PatientKind = "registered"
	PatientGuest       PatientKind = "guest"
	PatientBookedOther PatientKind = "booked_for_other"
)

// Patient is one of RegisteredPatient, GuestPatient or BookedForOther.
type Patient interface {
	Kind() PatientKind
	// RecipientCode is who the Notifier should address.
	RecipientCode() string
	Validate() error
}

type RegisteredPatient struct {
	Code string `json:"code"`
}

func (RegisteredPatient) Kind() PatientKind      { return PatientRegistered }
func (p RegisteredPatient) RecipientCode() string { return p.Code }

func (p RegisteredPatient) Validate() error {
	if strings.TrimSpace(p.Code) == "" {
		return validationErr("patient code is required")
	}
	return nil
}

// GuestPatient is a walk-up booking with a contact snapshot and no account.
type GuestPatient struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

func (GuestPatient) Kind() PatientKind      { return PatientGuest }
func (p GuestPatient) RecipientCode() string { return p.Phone }

func (p GuestPatient) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return validationErr("guest name is required")
	}
	if err := validatePhone(p.Phone); err != nil {
		return err
	}
	if p.Email != "" {
		if _, err := mail.ParseAddress(p.Email); err != nil {
			return validationErr("guest email %q is malformed", p.Email)
		}
	}
	return nil
}

// BookedForOther is a registered booker reserving on behalf of someone else.
type BookedForOther struct {
	BookerCode string `json:"booker_code"`
	Name       string `json:"name"`
	Contact    string `json:"contact"`
	Relation   string `json:"relation"`
}

func (BookedForOther) Kind() PatientKind      { return PatientBookedOther }
func (p BookedForOther) RecipientCode() string { return p.BookerCode }

func (p BookedForOther) Validate() error {
	if strings.TrimSpace(p.BookerCode) == "" {
		return validationErr("booker code is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return validationErr("name of the person booked for is required")
	}
	if strings.TrimSpace(p.Relation) == "" {
		return validationErr("relation to the booker is required")
	}
	return validatePhone(p.Contact)
}

var phonePattern = regexp.MustCompile(`^\+?[0-9]{10,15}$`)

func validatePhone(raw string) error {
	cleaned := strings.NewReplacer(" ", "", "-", "").Replace(raw)
	if cleaned == "" {
		return validationErr("phone number is required")
	}
	if !phonePattern.MatchString(cleaned) {
		return validationErr("phone number %q is malformed", raw)
	}
	return nil
}

// EncodePatient flattens a patient into its kind and a JSON snapshot.
func EncodePatient(p Patient) (PatientKind, []byte, error) {
	if p == nil {
		return "", nil, validationErr("patient is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("encode patient: %w", err)
	}
	return p.Kind(), data, nil
}

func DecodePatient(kind PatientKind, data []byte) (Patient, error) {
	switch kind {
	case PatientRegistered:
		var p RegisteredPatient
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode registered patient: %w", err)
		}
		return p, nil
	case PatientGuest:
		var p GuestPatient
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode guest patient: %w", err)
		}
		return p, nil
	case PatientBookedOther:
		var p BookedForOther
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode booked-for-other patient: %w", err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown patient kind %q", kind)
}
