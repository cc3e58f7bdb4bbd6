package community

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/geo"
)

// SearchLimit caps masjid search results.
const SearchLimit = 10

// Geocoder resolves a postcode. A nil location means unknown.
type Geocoder interface {
	Lookup(ctx context.Context, postcode string) (*geo.Location, error)
}

// UserInput is the body of every account creation request.
type UserInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	DOB       string `json:"dob" validate:"required,datetime=2006-01-02"`
	Gender    string `json:"gender" validate:"required,oneof=Male Female"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
}

// UserUpdate is the body of every account edit. An empty password keeps
// the current one.
type UserUpdate struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	DOB       string `json:"dob" validate:"required,datetime=2006-01-02"`
	Gender    string `json:"gender" validate:"required,oneof=Male Female"`
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password,omitempty" validate:"omitempty,min=8,max=72"`
}

type MemberInput struct {
	UserInput
	MasjidID int64 `json:"masjid_id" validate:"required,gt=0"`
}

type MemberUpdate struct {
	UserUpdate
	MasjidID int64 `json:"masjid_id" validate:"required,gt=0"`
}

type TrusteeInput struct {
	UserInput
	TrustID int64 `json:"trust_id" validate:"required,gt=0"`
}

type TrusteeUpdate struct {
	UserUpdate
	TrustID int64 `json:"trust_id" validate:"required,gt=0"`
}

type MasjidInput struct {
	FullName string `json:"full_name" validate:"required,max=200"`
	Postcode string `json:"postcode" validate:"required,max=10"`
	TrustID  int64  `json:"trust_id" validate:"required,gt=0"`
}

type TrustInput struct {
	Name string `json:"name" validate:"required,max=200"`
}

type TimetableInput struct {
	Entries []TimetableEntry `json:"entries" validate:"required,min=1,max=5,dive"`
}

type PrayerLog struct {
	Attended bool `json:"attended"`
	Steps    int  `json:"steps" validate:"gte=0,lte=1000000"`
}

// Service applies hashing, validation and cross-record rules on top of a Store.
type Service struct {
	store    Store
	geocoder Geocoder
	validate *validator.Validate
	now      func() time.Time
}

// Option configures Service.
type Option func(*Service)

func WithGeocoder(g Geocoder) Option {
	return func(s *Service) { s.geocoder = g }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		validate: newValidator(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) check(v any) error {
	if err := s.validate.Struct(v); err != nil {
		return validationError(err)
	}
	return nil
}

func (s *Service) today() string {
	return s.now().UTC().Format(DateLayout)
}

// Login returns the identity behind email when password matches.
// Unknown email and wrong password are indistinguishable.
func (s *Service) Login(ctx context.Context, email, password string) (auth.Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	cred, err := s.store.FindCredential(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	if err != nil {
		return auth.Identity{}, err
	}
	if !auth.PasswordMatches(password, cred.PasswordHash) {
		return auth.Identity{}, auth.ErrInvalidCredentials
	}
	return auth.Identity{SubjectID: cred.ID, Role: cred.Role}, nil
}

func (s *Service) newUser(in UserInput, role auth.Role) (NewUser, error) {
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return NewUser{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return NewUser{
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		DOB:          in.DOB,
		Gender:       in.Gender,
		Email:        normalizeEmail(in.Email),
		PasswordHash: hash,
		Role:         role,
	}, nil
}

func (s *Service) userChanges(in UserUpdate) (UserChanges, error) {
	c := UserChanges{
		FirstName: strings.TrimSpace(in.FirstName),
		LastName:  strings.TrimSpace(in.LastName),
		DOB:       in.DOB,
		Gender:    in.Gender,
		Email:     normalizeEmail(in.Email),
	}
	if in.Password != "" {
		hash, err := auth.HashPassword(in.Password)
		if err != nil {
			return UserChanges{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		c.PasswordHash = hash
	}
	return c, nil
}

// RegisterMember creates the user, its statistics record and today's
// statistics row in one unit.
func (s *Service) RegisterMember(ctx context.Context, in MemberInput) (Member, error) {
	if err := s.check(in); err != nil {
		return Member{}, err
	}
	u, err := s.newUser(in.UserInput, auth.RoleMember)
	if err != nil {
		return Member{}, err
	}
	return s.store.CreateMember(ctx, u, in.MasjidID, s.today())
}

func (s *Service) CreateTrustee(ctx context.Context, in TrusteeInput) (Trustee, error) {
	if err := s.check(in); err != nil {
		return Trustee{}, err
	}
	u, err := s.newUser(in.UserInput, auth.RoleTrustee)
	if err != nil {
		return Trustee{}, err
	}
	return s.store.CreateTrustee(ctx, u, in.TrustID)
}

func (s *Service) CreateAdmin(ctx context.Context, in UserInput) (Admin, error) {
	if err := s.check(in); err != nil {
		return Admin{}, err
	}
	u, err := s.newUser(in, auth.RoleAdmin)
	if err != nil {
		return Admin{}, err
	}
	return s.store.CreateAdmin(ctx, u)
}

func (s *Service) UpdateMember(ctx context.Context, id int64, in MemberUpdate) (Member, error) {
	if err := s.check(in); err != nil {
		return Member{}, err
	}
	c, err := s.userChanges(in.UserUpdate)
	if err != nil {
		return Member{}, err
	}
	return s.store.UpdateMember(ctx, id, c, in.MasjidID)
}

// UpdateTrustee edits a trustee. Only an admin may move a trustee to
// another trust, since the trust decides which timetables they can edit.
func (s *Service) UpdateTrustee(ctx context.Context, caller auth.Identity, id int64, in TrusteeUpdate) (Trustee, error) {
	if err := s.check(in); err != nil {
		return Trustee{}, err
	}
	if !caller.IsAdmin() {
		current, err := s.store.GetTrustee(ctx, id)
		if err != nil {
			return Trustee{}, err
		}
		if current.TrustID != in.TrustID {
			return Trustee{}, auth.ErrAccessDenied
		}
	}
	c, err := s.userChanges(in.UserUpdate)
	if err != nil {
		return Trustee{}, err
	}
	return s.store.UpdateTrustee(ctx, id, c, in.TrustID)
}

func (s *Service) UpdateAdmin(ctx context.Context, id int64, in UserUpdate) (Admin, error) {
	if err := s.check(in); err != nil {
		return Admin{}, err
	}
	c, err := s.userChanges(in)
	if err != nil {
		return Admin{}, err
	}
	return s.store.UpdateAdmin(ctx, id, c)
}

func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	return s.store.GetUser(ctx, id)
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

func (s *Service) DeleteUser(ctx context.Context, id int64) error {
	return s.store.DeleteUser(ctx, id)
}

func (s *Service) GetMember(ctx context.Context, id int64) (Member, error) {
	return s.store.GetMember(ctx, id)
}

func (s *Service) ListMembers(ctx context.Context) ([]Member, error) {
	return s.store.ListMembers(ctx)
}

func (s *Service) DeleteMember(ctx context.Context, id int64) error {
	return s.store.DeleteMember(ctx, id)
}

func (s *Service) GetTrustee(ctx context.Context, id int64) (Trustee, error) {
	return s.store.GetTrustee(ctx, id)
}

func (s *Service) ListTrustees(ctx context.Context) ([]Trustee, error) {
	return s.store.ListTrustees(ctx)
}

func (s *Service) DeleteTrustee(ctx context.Context, id int64) error {
	return s.store.DeleteTrustee(ctx, id)
}

func (s *Service) GetAdmin(ctx context.Context, id int64) (Admin, error) {
	return s.store.GetAdmin(ctx, id)
}

func (s *Service) ListAdmins(ctx context.Context) ([]Admin, error) {
	return s.store.ListAdmins(ctx)
}

func (s *Service) DeleteAdmin(ctx context.Context, id int64) error {
	return s.store.DeleteAdmin(ctx, id)
}

func (s *Service) CreateTrust(ctx context.Context, in TrustInput) (Trust, error) {
	if err := s.check(in); err != nil {
		return Trust{}, err
	}
	return s.store.CreateTrust(ctx, strings.TrimSpace(in.Name))
}

func (s *Service) ListTrusts(ctx context.Context) ([]Trust, error) {
	return s.store.ListTrusts(ctx)
}

// CreateMasjid stores a masjid with coordinates when the postcode resolves.
func (s *Service) CreateMasjid(ctx context.Context, in MasjidInput) (Masjid, error) {
	if err := s.check(in); err != nil {
		return Masjid{}, err
	}
	m := NewMasjid{
		FullName: strings.TrimSpace(in.FullName),
		Postcode: strings.ToUpper(strings.TrimSpace(in.Postcode)),
		TrustID:  in.TrustID,
	}
	if s.geocoder != nil {
		if loc, _ := s.geocoder.Lookup(ctx, m.Postcode); loc != nil {
			lat, lng := loc.Latitude, loc.Longitude
			m.Latitude, m.Longitude = &lat, &lng
		}
	}
	return s.store.CreateMasjid(ctx, m)
}

func (s *Service) GetMasjid(ctx context.Context, id int64) (Masjid, error) {
	return s.store.GetMasjid(ctx, id)
}

// SearchMasjids matches name anywhere in the masjid's full name.
func (s *Service) SearchMasjids(ctx context.Context, name string) ([]MasjidSummary, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	return s.store.SearchMasjids(ctx, name, SearchLimit)
}

func (s *Service) Timetable(ctx context.Context, masjidID int64, date string) ([]TimetableEntry, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetMasjid(ctx, masjidID); err != nil {
		return nil, err
	}
	return s.store.Timetable(ctx, masjidID, day)
}

// SetTimetable replaces one day of a masjid's timetable. Trustees may only
// edit masjids that belong to their own trust.
func (s *Service) SetTimetable(ctx context.Context, caller auth.Identity, masjidID int64, date string, in TimetableInput) error {
	day, err := ParseDate(date)
	if err != nil {
		return err
	}
	if err := s.check(in); err != nil {
		return err
	}
	seen := make(map[Prayer]bool, len(in.Entries))
	for _, e := range in.Entries {
		if seen[e.Prayer] {
			return fmt.Errorf("%w: duplicate prayer %s", ErrInvalidInput, e.Prayer)
		}
		seen[e.Prayer] = true
	}
	m, err := s.store.GetMasjid(ctx, masjidID)
	if err != nil {
		return err
	}
	if !caller.IsAdmin() {
		t, err := s.store.GetTrustee(ctx, caller.SubjectID)
		if errors.Is(err, ErrNotFound) {
			return auth.ErrAccessDenied
		}
		if err != nil {
			return err
		}
		if t.TrustID != m.TrustID {
			return auth.ErrAccessDenied
		}
	}
	return s.store.ReplaceTimetable(ctx, masjidID, day, in.Entries)
}

func (s *Service) PrayerStat(ctx context.Context, memberID int64, date, prayer string) (PrayerStat, error) {
	day, err := ParseDate(date)
	if err != nil {
		return PrayerStat{}, err
	}
	p, err := ParsePrayer(prayer)
	if err != nil {
		return PrayerStat{}, err
	}
	return s.store.PrayerStat(ctx, memberID, day, p)
}

func (s *Service) DailyStats(ctx context.Context, memberID int64, date string) ([]PrayerStat, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	return s.store.DailyStats(ctx, memberID, day)
}

// LogPrayer records attendance and steps for one prayer, replacing any
// earlier entry for the same prayer.
func (s *Service) LogPrayer(ctx context.Context, memberID int64, date, prayer string, in PrayerLog) (PrayerStat, error) {
	day, err := ParseDate(date)
	if err != nil {
		return PrayerStat{}, err
	}
	p, err := ParsePrayer(prayer)
	if err != nil {
		return PrayerStat{}, err
	}
	if err := s.check(in); err != nil {
		return PrayerStat{}, err
	}
	stat := PrayerStat{Prayer: p, Attended: in.Attended, Steps: in.Steps}
	if err := s.store.LogPrayer(ctx, memberID, day, stat); err != nil {
		return PrayerStat{}, err
	}
	return stat, nil
}

func (s *Service) MasjidStats(ctx context.Context, masjidID int64, date string) ([]PrayerSummary, error) {
	day, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetMasjid(ctx, masjidID); err != nil {
		return nil, err
	}
	return s.store.MasjidStats(ctx, masjidID, day)
}

// EnsureDailyStatistics opens the statistics day for every member.
func (s *Service) EnsureDailyStatistics(ctx context.Context, day time.Time) (int64, error) {
	return s.store.EnsureDailyStatistics(ctx, day.UTC().Format(DateLayout))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
