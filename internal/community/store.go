package community

import "context"

// Store persists the community model. Every method that touches more than
// one table must be atomic.
type Store interface {
	FindCredential(ctx context.Context, email string) (Credential, error)
	GetUser(ctx context.Context, id int64) (User, error)
	ListUsers(ctx context.Context) ([]User, error)
	DeleteUser(ctx context.Context, id int64) error

	CreateMember(ctx context.Context, u NewUser, masjidID int64, today string) (Member, error)
	GetMember(ctx context.Context, id int64) (Member, error)
	ListMembers(ctx context.Context) ([]Member, error)
	UpdateMember(ctx context.Context, id int64, c UserChanges, masjidID int64) (Member, error)
	DeleteMember(ctx context.Context, id int64) error

	CreateTrustee(ctx context.Context, u NewUser, trustID int64) (Trustee, error)
	GetTrustee(ctx context.Context, id int64) (Trustee, error)
	ListTrustees(ctx context.Context) ([]Trustee, error)
	UpdateTrustee(ctx context.Context, id int64, c UserChanges, trustID int64) (Trustee, error)
	DeleteTrustee(ctx context.Context, id int64) error

	CreateAdmin(ctx context.Context, u NewUser) (Admin, error)
	GetAdmin(ctx context.Context, id int64) (Admin, error)
	ListAdmins(ctx context.Context) ([]Admin, error)
	UpdateAdmin(ctx context.Context, id int64, c UserChanges) (Admin, error)
	DeleteAdmin(ctx context.Context, id int64) error

	CreateTrust(ctx context.Context, name string) (Trust, error)
	ListTrusts(ctx context.Context) ([]Trust, error)

	CreateMasjid(ctx context.Context, m NewMasjid) (Masjid, error)
	GetMasjid(ctx context.Context, id int64) (Masjid, error)
	SearchMasjids(ctx context.Context, name string, limit int) ([]MasjidSummary, error)

	Timetable(ctx context.Context, masjidID int64, date string) ([]TimetableEntry, error)
	ReplaceTimetable(ctx context.Context, masjidID int64, date string, entries []TimetableEntry) error

	PrayerStat(ctx context.Context, memberID int64, date string, prayer Prayer) (PrayerStat, error)
	DailyStats(ctx context.Context, memberID int64, date string) ([]PrayerStat, error)
	LogPrayer(ctx context.Context, memberID int64, date string, stat PrayerStat) error
	MasjidStats(ctx context.Context, masjidID int64, date string) ([]PrayerSummary, error)

	// EnsureDailyStatistics creates the per-day row for every statistics
	// record that lacks one and returns how many were created.
	EnsureDailyStatistics(ctx context.Context, date string) (int64, error)
}
