package community

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"fivesteps.org/internal/auth"
)

// DateLayout is the wire and storage form of calendar dates.
const DateLayout = "2006-01-02"

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("already exists")
)

// User is the shared credential record. Email is only populated for
// callers allowed to see contact details.
type User struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	DOB       string    `json:"dob"`
	Gender    string    `json:"gender"`
	Email     string    `json:"email,omitempty"`
	Role      auth.Role `json:"permission"`
}

type Member struct {
	User
	MasjidID     int64 `json:"masjid_id"`
	StatisticsID int64 `json:"-"`
}

type Trustee struct {
	User
	TrustID int64 `json:"trust_id"`
}

type Admin struct {
	User
}

// NewUser is a credential record ready for insertion.
type NewUser struct {
	FirstName    string
	LastName     string
	DOB          string
	Gender       string
	Email        string
	PasswordHash string
	Role         auth.Role
}

// UserChanges replaces the editable columns of a user. An empty
// PasswordHash keeps the stored one.
type UserChanges struct {
	FirstName    string
	LastName     string
	DOB          string
	Gender       string
	Email        string
	PasswordHash string
}

// Credential is what login needs to know about an email address.
type Credential struct {
	ID           int64
	Role         auth.Role
	PasswordHash string
}

type Trust struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type Masjid struct {
	ID        int64    `json:"id"`
	FullName  string   `json:"full_name"`
	Postcode  string   `json:"postcode"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	TrustID   int64    `json:"trust_id"`
}

// MasjidSummary is a search hit.
type MasjidSummary struct {
	ID       int64  `json:"id"`
	FullName string `json:"full_name"`
}

type NewMasjid struct {
	FullName  string
	Postcode  string
	Latitude  *float64
	Longitude *float64
	TrustID   int64
}

type TimetableEntry struct {
	Prayer Prayer `json:"prayer" validate:"required"`
	Begins string `json:"begins" validate:"required,datetime=15:04"`
	Jamaat string `json:"jamaat,omitempty" validate:"omitempty,datetime=15:04"`
}

type PrayerStat struct {
	Prayer   Prayer `json:"prayer"`
	Attended bool   `json:"attended"`
	Steps    int    `json:"steps"`
}

// PrayerSummary aggregates one prayer across the members of a masjid.
type PrayerSummary struct {
	Prayer   Prayer `json:"prayer"`
	Attended int    `json:"attended"`
	Steps    int64  `json:"steps"`
}

// Prayer is one of the five daily prayers.
type Prayer string

const (
	Fajr    Prayer = "Fajr"
	Dhuhr   Prayer = "Dhuhr"
	Asr     Prayer = "Asr"
	Maghrib Prayer = "Maghrib"
	Isha    Prayer = "Isha"
)

var Prayers = []Prayer{Fajr, Dhuhr, Asr, Maghrib, Isha}

func ParsePrayer(raw string) (Prayer, error) {
	raw = strings.TrimSpace(raw)
	for _, p := range Prayers {
		if strings.EqualFold(raw, string(p)) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: unknown prayer %q", ErrInvalidInput, raw)
}

func (p *Prayer) UnmarshalText(b []byte) error {
	parsed, err := ParsePrayer(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParseDate accepts YYYY-MM-DD and returns the canonical form.
func ParseDate(raw string) (string, error) {
	d, err := time.Parse(DateLayout, strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidInput)
	}
	return d.Format(DateLayout), nil
}
