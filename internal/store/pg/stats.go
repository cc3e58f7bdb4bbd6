package pg

import (
	"context"
	"database/sql"

	"fivesteps.org/internal/community"
)

// dailyRowID resolves the member's statistics row for date. Both a missing
// member and a missing day surface as ErrNotFound.
func dailyRowID(ctx context.Context, q querier, memberID int64, date string) (int64, error) {
	var statID int64
	if err := q.QueryRowContext(ctx,
		`select statistics_id from members where id = $1`, memberID).Scan(&statID); err != nil {
		return 0, mapError(err)
	}
	var dailyID int64
	if err := q.QueryRowContext(ctx,
		`select id from daily_user_statistics where statistics_id = $1 and stat_date = $2`,
		statID, date).Scan(&dailyID); err != nil {
		return 0, mapError(err)
	}
	return dailyID, nil
}

func (s *Store) PrayerStat(ctx context.Context, memberID int64, date string, prayer community.Prayer) (community.PrayerStat, error) {
	dailyID, err := dailyRowID(ctx, s.db, memberID, date)
	if err != nil {
		return community.PrayerStat{}, err
	}
	stat := community.PrayerStat{Prayer: prayer}
	err = s.db.QueryRowContext(ctx, `
		select attended, steps from prayer_user_statistics
		where daily_id = $1 and prayer = $2
	`, dailyID, prayer).Scan(&stat.Attended, &stat.Steps)
	if err != nil {
		return community.PrayerStat{}, mapError(err)
	}
	return stat, nil
}

func (s *Store) DailyStats(ctx context.Context, memberID int64, date string) ([]community.PrayerStat, error) {
	dailyID, err := dailyRowID(ctx, s.db, memberID, date)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select prayer, attended, steps from prayer_user_statistics
		where daily_id = $1
		order by `+prayerOrderSQL, dailyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.PrayerStat{}
	for rows.Next() {
		var st community.PrayerStat
		if err := rows.Scan(&st.Prayer, &st.Attended, &st.Steps); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) LogPrayer(ctx context.Context, memberID int64, date string, stat community.PrayerStat) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		dailyID, err := dailyRowID(ctx, tx, memberID, date)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			insert into prayer_user_statistics (daily_id, prayer, attended, steps)
			values ($1, $2, $3, $4)
			on conflict (daily_id, prayer) do update
			set attended = excluded.attended, steps = excluded.steps
		`, dailyID, stat.Prayer, stat.Attended, stat.Steps)
		return mapError(err)
	})
}

// MasjidStats always reports all five prayers, zeroed when nobody logged.
func (s *Store) MasjidStats(ctx context.Context, masjidID int64, date string) ([]community.PrayerSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		select p.prayer, count(*) filter (where p.attended), coalesce(sum(p.steps), 0)
		from members m
		join daily_user_statistics d on d.statistics_id = m.statistics_id and d.stat_date = $2
		join prayer_user_statistics p on p.daily_id = d.id
		where m.masjid_id = $1
		group by p.prayer
	`, masjidID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	byPrayer := make(map[community.Prayer]community.PrayerSummary, len(community.Prayers))
	for rows.Next() {
		var sum community.PrayerSummary
		if err := rows.Scan(&sum.Prayer, &sum.Attended, &sum.Steps); err != nil {
			return nil, err
		}
		byPrayer[sum.Prayer] = sum
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]community.PrayerSummary, 0, len(community.Prayers))
	for _, p := range community.Prayers {
		sum, ok := byPrayer[p]
		if !ok {
			sum = community.PrayerSummary{Prayer: p}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Store) EnsureDailyStatistics(ctx context.Context, date string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		insert into daily_user_statistics (statistics_id, stat_date)
		select id, $1::date from user_statistics
		on conflict (statistics_id, stat_date) do nothing
	`, date)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}
