package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"crewarchive.org/internal/policy"
	"crewarchive.org/internal/requests"
)

const userColumns = `id, display_name, coalesce(instagram_handle, ''), auth_level, all_city_access, claimed, created_at, updated_at`

func scanUser(row interface{ Scan(...any) error }) (requests.User, error) {
	var u requests.User
	err := row.Scan(&u.ID, &u.DisplayName, &u.InstagramHandle, &u.Level, &u.AllCityAccess, &u.Claimed, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) FindUser(ctx context.Context, id string) (requests.User, error) {
	row := s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return requests.User{}, fmt.Errorf("%w: user %q", requests.ErrNotFound, id)
	}
	if err != nil {
		return requests.User{}, fmt.Errorf("find user: %w", err)
	}
	if err := s.loadCityAssignments(ctx, &u); err != nil {
		return requests.User{}, err
	}
	return u, nil
}

func (s *Store) FindUserByHandle(ctx context.Context, handle string) (requests.User, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where lower(instagram_handle) = lower($1)`, handle)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return requests.User{}, fmt.Errorf("%w: handle %q", requests.ErrNotFound, handle)
	}
	if err != nil {
		return requests.User{}, fmt.Errorf("find user by handle: %w", err)
	}
	if err := s.loadCityAssignments(ctx, &u); err != nil {
		return requests.User{}, err
	}
	return u, nil
}

func (s *Store) loadCityAssignments(ctx context.Context, u *requests.User) error {
	rows, err := s.db.QueryContext(ctx,
		`select city_id from user_city_assignments where user_id = $1 order by city_id`, u.ID)
	if err != nil {
		return fmt.Errorf("load city assignments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var city string
		if err := rows.Scan(&city); err != nil {
			return fmt.Errorf("scan city assignment: %w", err)
		}
		u.CityAssignments = append(u.CityAssignments, city)
	}
	return rows.Err()
}

func (s *Store) ListUsersWithMinLevel(ctx context.Context, min policy.Level) ([]requests.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+userColumns+` from users where auth_level >= $1 order by id`, min)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *Store) ListCityModerators(ctx context.Context, cityID string) ([]requests.User, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+userColumns+` from users u
		where u.auth_level >= $1
		  and (u.all_city_access
		       or exists (select 1 from user_city_assignments a where a.user_id = u.id and a.city_id = $2))
		order by u.id`, policy.LevelModerator, cityID)
	if err != nil {
		return nil, fmt.Errorf("list city moderators: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]requests.User, error) {
	var out []requests.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *Store) UpdateUserLevel(ctx context.Context, userID string, level policy.Level) error {
	res, err := s.db.ExecContext(ctx,
		`update users set auth_level = $2, updated_at = now() where id = $1`, userID, level)
	if err != nil {
		return fmt.Errorf("update user level: %w", err)
	}
	return requireRow(res, userID)
}

func (s *Store) SetAllCityAccess(ctx context.Context, userID string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`update users set all_city_access = $2, updated_at = now() where id = $1`, userID, enabled)
	if err != nil {
		return fmt.Errorf("set all city access: %w", err)
	}
	return requireRow(res, userID)
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: user %q", requests.ErrNotFound, id)
	}
	return nil
}

func (s *Store) FindResource(ctx context.Context, rt requests.ResourceType, id string) (requests.Resource, error) {
	var r requests.Resource
	err := s.db.QueryRowContext(ctx, `
		select resource_type, id, title, creator_id, coalesce(city_id, ''), created_at
		from resources where resource_type = $1 and id = $2`, rt, id).
		Scan(&r.Type, &r.ID, &r.Title, &r.CreatorID, &r.CityID, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return requests.Resource{}, fmt.Errorf("%w: %s %q", requests.ErrNotFound, rt, id)
	}
	if err != nil {
		return requests.Resource{}, fmt.Errorf("find resource: %w", err)
	}
	return r, nil
}

func (s *Store) TeamMemberIDs(ctx context.Context, rt requests.ResourceType, id string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select user_id from memberships
		where resource_type = $1 and resource_id = $2 and relation = $3
		order by user_id`, rt, id, requests.RelationTeamMember)
	if err != nil {
		return nil, fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan team member: %w", err)
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

func (s *Store) AddMembership(ctx context.Context, m requests.Membership) error {
	_, err := s.db.ExecContext(ctx, `
		insert into memberships (resource_type, resource_id, user_id, relation, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict do nothing`,
		m.ResourceType, m.ResourceID, m.UserID, m.Relation, at(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("add membership: %w", mapConstraint(err))
	}
	return nil
}

func (s *Store) AddRoleTag(ctx context.Context, t requests.RoleTag) error {
	_, err := s.db.ExecContext(ctx, `
		insert into role_tags (resource_type, resource_id, user_id, role, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict do nothing`,
		t.ResourceType, t.ResourceID, t.UserID, t.Role, at(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("add role tag: %w", mapConstraint(err))
	}
	return nil
}

func at(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
