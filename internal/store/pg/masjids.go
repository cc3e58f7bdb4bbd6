package pg

import (
	"context"
	"database/sql"
	"strings"

	"fivesteps.org/internal/community"
)

func (s *Store) CreateTrust(ctx context.Context, name string) (community.Trust, error) {
	t := community.Trust{Name: name}
	err := s.db.QueryRowContext(ctx, `insert into trusts (name) values ($1) returning id`, name).Scan(&t.ID)
	if err != nil {
		return community.Trust{}, mapError(err)
	}
	return t, nil
}

func (s *Store) ListTrusts(ctx context.Context) ([]community.Trust, error) {
	rows, err := s.db.QueryContext(ctx, `select id, name from trusts order by id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.Trust{}
	for rows.Next() {
		var t community.Trust
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateMasjid(ctx context.Context, in community.NewMasjid) (community.Masjid, error) {
	m := community.Masjid{
		FullName:  in.FullName,
		Postcode:  in.Postcode,
		Latitude:  in.Latitude,
		Longitude: in.Longitude,
		TrustID:   in.TrustID,
	}
	err := s.db.QueryRowContext(ctx, `
		insert into masjids (full_name, postcode, latitude, longitude, trust_id)
		values ($1, $2, $3, $4, $5)
		returning id
	`, in.FullName, in.Postcode, in.Latitude, in.Longitude, in.TrustID).Scan(&m.ID)
	if err != nil {
		return community.Masjid{}, mapError(err)
	}
	return m, nil
}

func (s *Store) GetMasjid(ctx context.Context, id int64) (community.Masjid, error) {
	var (
		m        community.Masjid
		lat, lon sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		select id, full_name, postcode, latitude, longitude, trust_id
		from masjids where id = $1
	`, id).Scan(&m.ID, &m.FullName, &m.Postcode, &lat, &lon, &m.TrustID)
	if err != nil {
		return community.Masjid{}, mapError(err)
	}
	if lat.Valid && lon.Valid {
		m.Latitude, m.Longitude = &lat.Float64, &lon.Float64
	}
	return m, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchMasjids matches case-insensitively anywhere in the name and ranks
// prefix matches first, then suffix matches, then the rest.
func (s *Store) SearchMasjids(ctx context.Context, name string, limit int) ([]community.MasjidSummary, error) {
	needle := likeEscaper.Replace(name)
	rows, err := s.db.QueryContext(ctx, `
		select id, full_name
		from masjids
		where full_name ilike $1
		order by case
			when full_name ilike $2 then 1
			when full_name ilike $3 then 2
			else 3
		end, full_name, id
		limit $4
	`, "%"+needle+"%", needle+"%", "%"+needle, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.MasjidSummary{}
	for rows.Next() {
		var m community.MasjidSummary
		if err := rows.Scan(&m.ID, &m.FullName); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

const prayerOrderSQL = `array_position(array['Fajr','Dhuhr','Asr','Maghrib','Isha']::text[], prayer)`

func (s *Store) Timetable(ctx context.Context, masjidID int64, date string) ([]community.TimetableEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		select prayer, to_char(begins, 'HH24:MI'), coalesce(to_char(jamaat, 'HH24:MI'), '')
		from timetables
		where masjid_id = $1 and day = $2
		order by `+prayerOrderSQL, masjidID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.TimetableEntry{}
	for rows.Next() {
		var e community.TimetableEntry
		if err := rows.Scan(&e.Prayer, &e.Begins, &e.Jamaat); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceTimetable swaps the whole day at once.
func (s *Store) ReplaceTimetable(ctx context.Context, masjidID int64, date string, entries []community.TimetableEntry) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`delete from timetables where masjid_id = $1 and day = $2`, masjidID, date); err != nil {
			return mapError(err)
		}
		for _, e := range entries {
			if _, err := tx.ExecContext(ctx, `
				insert into timetables (masjid_id, day, prayer, begins, jamaat)
				values ($1, $2, $3, $4::time, nullif($5, '')::time)
			`, masjidID, date, e.Prayer, e.Begins, e.Jamaat); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}
