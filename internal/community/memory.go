package community

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"fivesteps.org/internal/auth"
)

type memUser struct {
	User
	hash string
}

type dailyKey struct {
	statID int64
	date   string
}

type prayerKey struct {
	dailyID int64
	prayer  Prayer
}

type timetableKey struct {
	masjidID int64
	date     string
}

// InMemory is a Store kept in process memory. Each method holds the lock
// for its whole duration, which makes multi-record writes atomic.
type InMemory struct {
	mu sync.RWMutex

	nextID     int64
	users      map[int64]*memUser
	emails     map[string]int64
	members    map[int64]Member
	trustees   map[int64]int64
	admins     map[int64]struct{}
	statistics map[int64]struct{}
	daily      map[dailyKey]int64
	prayers    map[prayerKey]PrayerStat
	trusts     map[int64]Trust
	masjids    map[int64]Masjid
	timetables map[timetableKey][]TimetableEntry
}

var _ Store = (*InMemory)(nil)

func NewInMemory() *InMemory {
	return &InMemory{
		users:      make(map[int64]*memUser),
		emails:     make(map[string]int64),
		members:    make(map[int64]Member),
		trustees:   make(map[int64]int64),
		admins:     make(map[int64]struct{}),
		statistics: make(map[int64]struct{}),
		daily:      make(map[dailyKey]int64),
		prayers:    make(map[prayerKey]PrayerStat),
		trusts:     make(map[int64]Trust),
		masjids:    make(map[int64]Masjid),
		timetables: make(map[timetableKey][]TimetableEntry),
	}
}

func (s *InMemory) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemory) FindCredential(ctx context.Context, email string) (Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[normalizeEmail(email)]
	if !ok {
		return Credential{}, ErrNotFound
	}
	u := s.users[id]
	return Credential{ID: u.ID, Role: u.Role, PasswordHash: u.hash}, nil
}

func publicUser(u User) User {
	u.Email = ""
	return u
}

func (s *InMemory) GetUser(ctx context.Context, id int64) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return publicUser(u.User), nil
}

func (s *InMemory) ListUsers(ctx context.Context) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, publicUser(u.User))
	}
	slices.SortFunc(out, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *InMemory) insertUser(u NewUser) (User, error) {
	if _, taken := s.emails[u.Email]; taken {
		return User{}, fmt.Errorf("%w: email %s", ErrConflict, u.Email)
	}
	row := &memUser{
		User: User{
			ID:        s.id(),
			FirstName: u.FirstName,
			LastName:  u.LastName,
			DOB:       u.DOB,
			Gender:    u.Gender,
			Email:     u.Email,
			Role:      u.Role,
		},
		hash: u.PasswordHash,
	}
	s.users[row.ID] = row
	s.emails[row.Email] = row.ID
	return row.User, nil
}

func (s *InMemory) applyChanges(id int64, role auth.Role, c UserChanges) (User, error) {
	u, ok := s.users[id]
	if !ok || u.Role != role {
		return User{}, ErrNotFound
	}
	if other, taken := s.emails[c.Email]; taken && other != id {
		return User{}, fmt.Errorf("%w: email %s", ErrConflict, c.Email)
	}
	delete(s.emails, u.Email)
	u.FirstName, u.LastName, u.DOB, u.Gender, u.Email = c.FirstName, c.LastName, c.DOB, c.Gender, c.Email
	if c.PasswordHash != "" {
		u.hash = c.PasswordHash
	}
	s.emails[u.Email] = id
	return u.User, nil
}

// removeUser drops the user, its extension row and, for members, the
// statistics record and everything hanging off it.
func (s *InMemory) removeUser(id int64) {
	u := s.users[id]
	switch u.Role {
	case auth.RoleMember:
		m := s.members[id]
		delete(s.members, id)
		delete(s.users, id)
		delete(s.emails, u.Email)
		for k, dailyID := range s.daily {
			if k.statID != m.StatisticsID {
				continue
			}
			for _, p := range Prayers {
				delete(s.prayers, prayerKey{dailyID: dailyID, prayer: p})
			}
			delete(s.daily, k)
		}
		delete(s.statistics, m.StatisticsID)
		return
	case auth.RoleTrustee:
		delete(s.trustees, id)
	case auth.RoleAdmin:
		delete(s.admins, id)
	}
	delete(s.users, id)
	delete(s.emails, u.Email)
}

func (s *InMemory) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return ErrNotFound
	}
	s.removeUser(id)
	return nil
}

func (s *InMemory) deleteRole(id int64, role auth.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok || u.Role != role {
		return ErrNotFound
	}
	s.removeUser(id)
	return nil
}

func (s *InMemory) CreateMember(ctx context.Context, u NewUser, masjidID int64, today string) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.masjids[masjidID]; !ok {
		return Member{}, fmt.Errorf("%w: unknown masjid %d", ErrInvalidInput, masjidID)
	}
	user, err := s.insertUser(u)
	if err != nil {
		return Member{}, err
	}
	statID := s.id()
	s.statistics[statID] = struct{}{}
	s.daily[dailyKey{statID: statID, date: today}] = s.id()
	m := Member{User: user, MasjidID: masjidID, StatisticsID: statID}
	s.members[user.ID] = m
	return m, nil
}

func (s *InMemory) member(id int64) (Member, error) {
	u, ok := s.users[id]
	if !ok || u.Role != auth.RoleMember {
		return Member{}, ErrNotFound
	}
	m := s.members[id]
	m.User = u.User
	return m, nil
}

func (s *InMemory) GetMember(ctx context.Context, id int64) (Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.member(id)
}

func (s *InMemory) ListMembers(ctx context.Context) ([]Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Member, 0, len(s.members))
	for id := range s.members {
		m, _ := s.member(id)
		m.User = publicUser(m.User)
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Member) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *InMemory) UpdateMember(ctx context.Context, id int64, c UserChanges, masjidID int64) (Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.masjids[masjidID]; !ok {
		if _, err := s.member(id); err != nil {
			return Member{}, err
		}
		return Member{}, fmt.Errorf("%w: unknown masjid %d", ErrInvalidInput, masjidID)
	}
	if _, err := s.applyChanges(id, auth.RoleMember, c); err != nil {
		return Member{}, err
	}
	m := s.members[id]
	m.MasjidID = masjidID
	s.members[id] = m
	return s.member(id)
}

func (s *InMemory) DeleteMember(ctx context.Context, id int64) error {
	return s.deleteRole(id, auth.RoleMember)
}

func (s *InMemory) CreateTrustee(ctx context.Context, u NewUser, trustID int64) (Trustee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trusts[trustID]; !ok {
		return Trustee{}, fmt.Errorf("%w: unknown trust %d", ErrInvalidInput, trustID)
	}
	user, err := s.insertUser(u)
	if err != nil {
		return Trustee{}, err
	}
	s.trustees[user.ID] = trustID
	return Trustee{User: user, TrustID: trustID}, nil
}

func (s *InMemory) trustee(id int64) (Trustee, error) {
	u, ok := s.users[id]
	if !ok || u.Role != auth.RoleTrustee {
		return Trustee{}, ErrNotFound
	}
	return Trustee{User: u.User, TrustID: s.trustees[id]}, nil
}

func (s *InMemory) GetTrustee(ctx context.Context, id int64) (Trustee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trustee(id)
}

func (s *InMemory) ListTrustees(ctx context.Context) ([]Trustee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trustee, 0, len(s.trustees))
	for id := range s.trustees {
		t, _ := s.trustee(id)
		t.User = publicUser(t.User)
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Trustee) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *InMemory) UpdateTrustee(ctx context.Context, id int64, c UserChanges, trustID int64) (Trustee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trusts[trustID]; !ok {
		if _, err := s.trustee(id); err != nil {
			return Trustee{}, err
		}
		return Trustee{}, fmt.Errorf("%w: unknown trust %d", ErrInvalidInput, trustID)
	}
	if _, err := s.applyChanges(id, auth.RoleTrustee, c); err != nil {
		return Trustee{}, err
	}
	s.trustees[id] = trustID
	return s.trustee(id)
}

func (s *InMemory) DeleteTrustee(ctx context.Context, id int64) error {
	return s.deleteRole(id, auth.RoleTrustee)
}

func (s *InMemory) CreateAdmin(ctx context.Context, u NewUser) (Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, err := s.insertUser(u)
	if err != nil {
		return Admin{}, err
	}
	s.admins[user.ID] = struct{}{}
	return Admin{User: user}, nil
}

func (s *InMemory) admin(id int64) (Admin, error) {
	u, ok := s.users[id]
	if !ok || u.Role != auth.RoleAdmin {
		return Admin{}, ErrNotFound
	}
	return Admin{User: u.User}, nil
}

func (s *InMemory) GetAdmin(ctx context.Context, id int64) (Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.admin(id)
}

func (s *InMemory) ListAdmins(ctx context.Context) ([]Admin, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Admin, 0, len(s.admins))
	for id := range s.admins {
		a, _ := s.admin(id)
		a.User = publicUser(a.User)
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Admin) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *InMemory) UpdateAdmin(ctx context.Context, id int64, c UserChanges) (Admin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.applyChanges(id, auth.RoleAdmin, c); err != nil {
		return Admin{}, err
	}
	return s.admin(id)
}

func (s *InMemory) DeleteAdmin(ctx context.Context, id int64) error {
	return s.deleteRole(id, auth.RoleAdmin)
}

func (s *InMemory) CreateTrust(ctx context.Context, name string) (Trust, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trusts {
		if strings.EqualFold(t.Name, name) {
			return Trust{}, fmt.Errorf("%w: trust %s", ErrConflict, name)
		}
	}
	t := Trust{ID: s.id(), Name: name}
	s.trusts[t.ID] = t
	return t, nil
}

func (s *InMemory) ListTrusts(ctx context.Context) ([]Trust, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Trust, 0, len(s.trusts))
	for _, t := range s.trusts {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Trust) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *InMemory) CreateMasjid(ctx context.Context, in NewMasjid) (Masjid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trusts[in.TrustID]; !ok {
		return Masjid{}, fmt.Errorf("%w: unknown trust %d", ErrInvalidInput, in.TrustID)
	}
	m := Masjid{
		ID:        s.id(),
		FullName:  in.FullName,
		Postcode:  in.Postcode,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		TrustID:   in.TrustID,
	}
	s.masjids[m.ID] = m
	return m, nil
}

func (s *InMemory) GetMasjid(ctx context.Context, id int64) (Masjid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.masjids[id]
	if !ok {
		return Masjid{}, ErrNotFound
	}
	return m, nil
}

// searchRank orders prefix matches before suffix matches before the rest.
func searchRank(fullName, needle string) int {
	name := strings.ToLower(fullName)
	switch {
	case strings.HasPrefix(name, needle):
		return 1
	case strings.HasSuffix(name, needle):
		return 2
	default:
		return 3
	}
}

func (s *InMemory) SearchMasjids(ctx context.Context, name string, limit int) ([]MasjidSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	needle := strings.ToLower(name)
	var hits []Masjid
	for _, m := range s.masjids {
		if strings.Contains(strings.ToLower(m.FullName), needle) {
			hits = append(hits, m)
		}
	}
	slices.SortFunc(hits, func(a, b Masjid) int {
		return cmp.Or(
			cmp.Compare(searchRank(a.FullName, needle), searchRank(b.FullName, needle)),
			cmp.Compare(a.FullName, b.FullName),
			cmp.Compare(a.ID, b.ID),
		)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]MasjidSummary, 0, len(hits))
	for _, m := range hits {
		out = append(out, MasjidSummary{ID: m.ID, FullName: m.FullName})
	}
	return out, nil
}

func prayerOrder(p Prayer) int {
	return slices.Index(Prayers, p)
}

func (s *InMemory) Timetable(ctx context.Context, masjidID int64, date string) ([]TimetableEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.timetables[timetableKey{masjidID: masjidID, date: date}]), nil
}

func (s *InMemory) ReplaceTimetable(ctx context.Context, masjidID int64, date string, entries []TimetableEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.masjids[masjidID]; !ok {
		return ErrNotFound
	}
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, func(a, b TimetableEntry) int {
		return cmp.Compare(prayerOrder(a.Prayer), prayerOrder(b.Prayer))
	})
	s.timetables[timetableKey{masjidID: masjidID, date: date}] = sorted
	return nil
}

// dailyRow resolves the member's statistics row for date.
func (s *InMemory) dailyRow(memberID int64, date string) (int64, error) {
	m, err := s.member(memberID)
	if err != nil {
		return 0, err
	}
	dailyID, ok := s.daily[dailyKey{statID: m.StatisticsID, date: date}]
	if !ok {
		return 0, ErrNotFound
	}
	return dailyID, nil
}

func (s *InMemory) PrayerStat(ctx context.Context, memberID int64, date string, prayer Prayer) (PrayerStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dailyID, err := s.dailyRow(memberID, date)
	if err != nil {
		return PrayerStat{}, err
	}
	stat, ok := s.prayers[prayerKey{dailyID: dailyID, prayer: prayer}]
	if !ok {
		return PrayerStat{}, ErrNotFound
	}
	return stat, nil
}

func (s *InMemory) DailyStats(ctx context.Context, memberID int64, date string) ([]PrayerStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dailyID, err := s.dailyRow(memberID, date)
	if err != nil {
		return nil, err
	}
	out := []PrayerStat{}
	for _, p := range Prayers {
		if stat, ok := s.prayers[prayerKey{dailyID: dailyID, prayer: p}]; ok {
			out = append(out, stat)
		}
	}
	return out, nil
}

func (s *InMemory) LogPrayer(ctx context.Context, memberID int64, date string, stat PrayerStat) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dailyID, err := s.dailyRow(memberID, date)
	if err != nil {
		return err
	}
	s.prayers[prayerKey{dailyID: dailyID, prayer: stat.Prayer}] = stat
	return nil
}

func (s *InMemory) MasjidStats(ctx context.Context, masjidID int64, date string) ([]PrayerSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PrayerSummary, 0, len(Prayers))
	for _, p := range Prayers {
		sum := PrayerSummary{Prayer: p}
		for _, m := range s.members {
			if m.MasjidID != masjidID {
				continue
			}
			dailyID, ok := s.daily[dailyKey{statID: m.StatisticsID, date: date}]
			if !ok {
				continue
			}
			if stat, ok := s.prayers[prayerKey{dailyID: dailyID, prayer: p}]; ok {
				if stat.Attended {
					sum.Attended++
				}
				sum.Steps += int64(stat.Steps)
			}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *InMemory) EnsureDailyStatistics(ctx context.Context, date string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var created int64
	for statID := range s.statistics {
		k := dailyKey{statID: statID, date: date}
		if _, ok := s.daily[k]; ok {
			continue
		}
		s.daily[k] = s.id()
		created++
	}
	return created, nil
}
