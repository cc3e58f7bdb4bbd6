package pg

import (
	"context"
	"database/sql"
	"errors"

	"fivesteps.org/internal/auth"
	"fivesteps.org/internal/community"
)

const (
	publicUserColumns  = `u.id, u.first_name, u.last_name, to_char(u.dob, 'YYYY-MM-DD'), u.gender, u.permission`
	privateUserColumns = `u.id, u.first_name, u.last_name, to_char(u.dob, 'YYYY-MM-DD'), u.gender, u.email, u.permission`
)

type scanner interface {
	Scan(dest ...any) error
}

func scanPublicUser(row scanner, extra ...any) (community.User, error) {
	var u community.User
	dest := append([]any{&u.ID, &u.FirstName, &u.LastName, &u.DOB, &u.Gender, &u.Role}, extra...)
	err := row.Scan(dest...)
	return u, err
}

func scanPrivateUser(row scanner, extra ...any) (community.User, error) {
	var u community.User
	dest := append([]any{&u.ID, &u.FirstName, &u.LastName, &u.DOB, &u.Gender, &u.Email, &u.Role}, extra...)
	err := row.Scan(dest...)
	return u, err
}

func (s *Store) FindCredential(ctx context.Context, email string) (community.Credential, error) {
	var c community.Credential
	err := s.db.QueryRowContext(ctx,
		`select id, permission, password_hash from users where email = $1`, email,
	).Scan(&c.ID, &c.Role, &c.PasswordHash)
	if err != nil {
		return community.Credential{}, mapError(err)
	}
	return c, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (community.User, error) {
	u, err := scanPublicUser(s.db.QueryRowContext(ctx,
		`select `+publicUserColumns+` from users u where u.id = $1`, id))
	if err != nil {
		return community.User{}, mapError(err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]community.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+publicUserColumns+` from users u order by u.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.User{}
	for rows.Next() {
		u, err := scanPublicUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func insertUser(ctx context.Context, q querier, u community.NewUser) (community.User, error) {
	var id int64
	err := q.QueryRowContext(ctx, `
		insert into users (first_name, last_name, dob, gender, email, password_hash, permission)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning id
	`, u.FirstName, u.LastName, u.DOB, u.Gender, u.Email, u.PasswordHash, u.Role).Scan(&id)
	if err != nil {
		return community.User{}, mapError(err)
	}
	return community.User{
		ID:        id,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		DOB:       u.DOB,
		Gender:    u.Gender,
		Email:     u.Email,
		Role:      u.Role,
	}, nil
}

func updateUser(ctx context.Context, q querier, id int64, role auth.Role, c community.UserChanges) error {
	res, err := q.ExecContext(ctx, `
		update users
		set first_name = $3, last_name = $4, dob = $5, gender = $6, email = $7,
		    password_hash = coalesce(nullif($8, ''), password_hash)
		where id = $1 and permission = $2
	`, id, role, c.FirstName, c.LastName, c.DOB, c.Gender, c.Email, c.PasswordHash)
	if err != nil {
		return mapError(err)
	}
	return expectAffected(res)
}

// deleteUser removes a user and its extension row. When want is non-empty
// the stored role must match it. A member's statistics record is removed
// after the user because members.statistics_id restricts its deletion.
func deleteUser(ctx context.Context, tx *sql.Tx, id int64, want auth.Role) error {
	var role auth.Role
	err := tx.QueryRowContext(ctx, `select permission from users where id = $1 for update`, id).Scan(&role)
	if err != nil {
		return mapError(err)
	}
	if want != "" && role != want {
		return community.ErrNotFound
	}

	var statID sql.NullInt64
	if role == auth.RoleMember {
		err := tx.QueryRowContext(ctx, `select statistics_id from members where id = $1`, id).Scan(&statID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `delete from users where id = $1`, id); err != nil {
		return mapError(err)
	}
	if statID.Valid {
		if _, err := tx.ExecContext(ctx, `delete from user_statistics where id = $1`, statID.Int64); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return deleteUser(ctx, tx, id, "")
	})
}

// CreateMember inserts the user, a statistics record, the member row and
// the statistics row for today as one unit.
func (s *Store) CreateMember(ctx context.Context, u community.NewUser, masjidID int64, today string) (community.Member, error) {
	return InTx(ctx, s.tx, func(ctx context.Context, tx *sql.Tx) (community.Member, error) {
		user, err := insertUser(ctx, tx, u)
		if err != nil {
			return community.Member{}, err
		}
		var statID int64
		if err := tx.QueryRowContext(ctx, `insert into user_statistics default values returning id`).Scan(&statID); err != nil {
			return community.Member{}, mapError(err)
		}
		if _, err := tx.ExecContext(ctx,
			`insert into members (id, masjid_id, statistics_id) values ($1, $2, $3)`,
			user.ID, masjidID, statID); err != nil {
			return community.Member{}, mapError(err)
		}
		if _, err := tx.ExecContext(ctx,
			`insert into daily_user_statistics (statistics_id, stat_date) values ($1, $2)`,
			statID, today); err != nil {
			return community.Member{}, mapError(err)
		}
		return community.Member{User: user, MasjidID: masjidID, StatisticsID: statID}, nil
	})
}

func getMember(ctx context.Context, q querier, id int64) (community.Member, error) {
	var m community.Member
	u, err := scanPrivateUser(q.QueryRowContext(ctx, `
		select `+privateUserColumns+`, m.masjid_id, m.statistics_id
		from users u join members m on m.id = u.id
		where u.id = $1
	`, id), &m.MasjidID, &m.StatisticsID)
	if err != nil {
		return community.Member{}, mapError(err)
	}
	m.User = u
	return m, nil
}

func (s *Store) GetMember(ctx context.Context, id int64) (community.Member, error) {
	return getMember(ctx, s.db, id)
}

func (s *Store) ListMembers(ctx context.Context) ([]community.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+publicUserColumns+`, m.masjid_id, m.statistics_id
		from users u join members m on m.id = u.id
		order by u.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.Member{}
	for rows.Next() {
		var m community.Member
		u, err := scanPublicUser(rows, &m.MasjidID, &m.StatisticsID)
		if err != nil {
			return nil, err
		}
		m.User = u
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMember(ctx context.Context, id int64, c community.UserChanges, masjidID int64) (community.Member, error) {
	return InTx(ctx, s.tx, func(ctx context.Context, tx *sql.Tx) (community.Member, error) {
		if err := updateUser(ctx, tx, id, auth.RoleMember, c); err != nil {
			return community.Member{}, err
		}
		res, err := tx.ExecContext(ctx, `update members set masjid_id = $2 where id = $1`, id, masjidID)
		if err != nil {
			return community.Member{}, mapError(err)
		}
		if err := expectAffected(res); err != nil {
			return community.Member{}, err
		}
		return getMember(ctx, tx, id)
	})
}

func (s *Store) DeleteMember(ctx context.Context, id int64) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return deleteUser(ctx, tx, id, auth.RoleMember)
	})
}

func (s *Store) CreateTrustee(ctx context.Context, u community.NewUser, trustID int64) (community.Trustee, error) {
	return InTx(ctx, s.tx, func(ctx context.Context, tx *sql.Tx) (community.Trustee, error) {
		user, err := insertUser(ctx, tx, u)
		if err != nil {
			return community.Trustee{}, err
		}
		if _, err := tx.ExecContext(ctx,
			`insert into trustees (id, trust_id) values ($1, $2)`, user.ID, trustID); err != nil {
			return community.Trustee{}, mapError(err)
		}
		return community.Trustee{User: user, TrustID: trustID}, nil
	})
}

func getTrustee(ctx context.Context, q querier, id int64) (community.Trustee, error) {
	var t community.Trustee
	u, err := scanPrivateUser(q.QueryRowContext(ctx, `
		select `+privateUserColumns+`, t.trust_id
		from users u join trustees t on t.id = u.id
		where u.id = $1
	`, id), &t.TrustID)
	if err != nil {
		return community.Trustee{}, mapError(err)
	}
	t.User = u
	return t, nil
}

func (s *Store) GetTrustee(ctx context.Context, id int64) (community.Trustee, error) {
	return getTrustee(ctx, s.db, id)
}

func (s *Store) ListTrustees(ctx context.Context) ([]community.Trustee, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+publicUserColumns+`, t.trust_id
		from users u join trustees t on t.id = u.id
		order by u.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.Trustee{}
	for rows.Next() {
		var t community.Trustee
		u, err := scanPublicUser(rows, &t.TrustID)
		if err != nil {
			return nil, err
		}
		t.User = u
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTrustee(ctx context.Context, id int64, c community.UserChanges, trustID int64) (community.Trustee, error) {
	return InTx(ctx, s.tx, func(ctx context.Context, tx *sql.Tx) (community.Trustee, error) {
		if err := updateUser(ctx, tx, id, auth.RoleTrustee, c); err != nil {
			return community.Trustee{}, err
		}
		res, err := tx.ExecContext(ctx, `update trustees set trust_id = $2 where id = $1`, id, trustID)
		if err != nil {
			return community.Trustee{}, mapError(err)
		}
		if err := expectAffected(res); err != nil {
			return community.Trustee{}, err
		}
		return getTrustee(ctx, tx, id)
	})
}

func (s *Store) DeleteTrustee(ctx context.Context, id int64) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return deleteUser(ctx, tx, id, auth.RoleTrustee)
	})
}

func (s *Store) CreateAdmin(ctx context.Context, u community.NewUser) (community.Admin, error) {
	return InTx(ctx, s.tx, func(ctx context.Context, tx *sql.Tx) (community.Admin, error) {
		user, err := insertUser(ctx, tx, u)
		if err != nil {
			return community.Admin{}, err
		}
		if _, err := tx.ExecContext(ctx, `insert into admins (id) values ($1)`, user.ID); err != nil {
			return community.Admin{}, mapError(err)
		}
		return community.Admin{User: user}, nil
	})
}

func getAdmin(ctx context.Context, q querier, id int64) (community.Admin, error) {
	u, err := scanPrivateUser(q.QueryRowContext(ctx, `
		select `+privateUserColumns+`
		from users u join admins a on a.id = u.id
		where u.id = $1
	`, id))
	if err != nil {
		return community.Admin{}, mapError(err)
	}
	return community.Admin{User: u}, nil
}

func (s *Store) GetAdmin(ctx context.Context, id int64) (community.Admin, error) {
	return getAdmin(ctx, s.db, id)
}

func (s *Store) ListAdmins(ctx context.Context) ([]community.Admin, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+publicUserColumns+`
		from users u join admins a on a.id = u.id
		order by u.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []community.Admin{}
	for rows.Next() {
		u, err := scanPublicUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, community.Admin{User: u})
	}
	return out, rows.Err()
}

func (s *Store) UpdateAdmin(ctx context.Context, id int64, c community.UserChanges) (community.Admin, error) {
	return InTx(ctx, s.tx, func(ctx context.Context, tx *sql.Tx) (community.Admin, error) {
		if err := updateUser(ctx, tx, id, auth.RoleAdmin, c); err != nil {
			return community.Admin{}, err
		}
		return getAdmin(ctx, tx, id)
	})
}

func (s *Store) DeleteAdmin(ctx context.Context, id int64) error {
	return s.tx.Run(ctx, func(ctx context.Context, tx *sql.Tx) error {
		return deleteUser(ctx, tx, id, auth.RoleAdmin)
	})
}
