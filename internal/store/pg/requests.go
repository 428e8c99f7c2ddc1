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

const requestColumns = `id, request_type, status, sender_id, coalesce(target_user_id, ''),
	coalesce(resource_type, ''), coalesce(resource_id, ''), coalesce(role, ''),
	requested_level, current_level, coalesce(instagram_handle, ''), tag_count,
	wipe_relationships, coalesce(message, ''), created_at, updated_at`

// payloadColumns flattens the tagged union into nullable columns. Exactly
// the columns relevant to the request type are set; the rest stay NULL.
type payloadColumns struct {
	resourceType    sql.NullString
	resourceID      sql.NullString
	role            sql.NullString
	requestedLevel  sql.NullInt64
	currentLevel    sql.NullInt64
	instagramHandle sql.NullString
	tagCount        sql.NullInt64
	wipe            sql.NullBool
}

func flattenPayload(p requests.Payload) (payloadColumns, error) {
	var c payloadColumns
	switch v := p.(type) {
	case requests.TaggingPayload:
		c.resourceType = sql.NullString{String: string(v.ResourceType), Valid: true}
		c.resourceID = sql.NullString{String: v.ResourceID, Valid: true}
		c.role = sql.NullString{String: v.Role, Valid: true}
	case requests.TeamMemberPayload:
		c.resourceType = sql.NullString{String: string(v.ResourceType), Valid: true}
		c.resourceID = sql.NullString{String: v.ResourceID, Valid: true}
	case requests.AuthLevelChangePayload:
		c.requestedLevel = sql.NullInt64{Int64: int64(v.RequestedLevel), Valid: true}
		c.currentLevel = sql.NullInt64{Int64: int64(v.CurrentLevel), Valid: true}
	case requests.GlobalAccessPayload:
	case requests.AccountClaimPayload:
		c.instagramHandle = sql.NullString{String: v.InstagramHandle, Valid: true}
		c.tagCount = sql.NullInt64{Int64: int64(v.TagCount), Valid: true}
		c.wipe = sql.NullBool{Bool: v.WipeRelationships, Valid: true}
	default:
		return c, fmt.Errorf("%w: unknown payload", requests.ErrInvalidRequest)
	}
	return c, nil
}

func scanRequest(row interface{ Scan(...any) error }) (requests.Request, error) {
	var (
		r               requests.Request
		resourceType    string
		resourceID      string
		role            string
		requestedLevel  sql.NullInt64
		currentLevel    sql.NullInt64
		instagramHandle string
		tagCount        sql.NullInt64
		wipe            sql.NullBool
	)
	err := row.Scan(&r.ID, &r.Type, &r.Status, &r.SenderID, &r.TargetUserID,
		&resourceType, &resourceID, &role,
		&requestedLevel, &currentLevel, &instagramHandle, &tagCount,
		&wipe, &r.Message, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return requests.Request{}, err
	}

	switch r.Type {
	case requests.TypeTagging:
		r.Payload = requests.TaggingPayload{
			ResourceType: requests.ResourceType(resourceType),
			ResourceID:   resourceID,
			Role:         role,
		}
	case requests.TypeTeamMember:
		r.Payload = requests.TeamMemberPayload{
			ResourceType: requests.ResourceType(resourceType),
			ResourceID:   resourceID,
		}
	case requests.TypeAuthLevelChange:
		r.Payload = requests.AuthLevelChangePayload{
			RequestedLevel: policy.Level(requestedLevel.Int64),
			CurrentLevel:   policy.Level(currentLevel.Int64),
		}
	case requests.TypeGlobalAccess:
		r.Payload = requests.GlobalAccessPayload{}
	case requests.TypeAccountClaim:
		r.Payload = requests.AccountClaimPayload{
			InstagramHandle:   instagramHandle,
			TagCount:          int(tagCount.Int64),
			WipeRelationships: wipe.Bool,
		}
	default:
		return requests.Request{}, fmt.Errorf("unknown request type %q", r.Type)
	}
	return r, nil
}

func (s *Store) InsertRequest(ctx context.Context, r *requests.Request) error {
	c, err := flattenPayload(r.Payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into requests (id, request_type, status, sender_id, target_user_id,
			resource_type, resource_id, role, requested_level, current_level,
			instagram_handle, tag_count, wipe_relationships, message, created_at, updated_at)
		values ($1, $2, $3, $4, nullif($5, ''), $6, $7, $8, $9, $10, $11, $12, $13, nullif($14, ''), $15, $16)`,
		r.ID, r.Type, r.Status, r.SenderID, r.TargetUserID,
		c.resourceType, c.resourceID, c.role, c.requestedLevel, c.currentLevel,
		c.instagramHandle, c.tagCount, c.wipe, r.Message, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isPgCode(err, pgUniqueViolation) {
			return requests.ErrDuplicatePending
		}
		return fmt.Errorf("insert request: %w", mapConstraint(err))
	}
	return nil
}

func (s *Store) FindRequest(ctx context.Context, id string) (requests.Request, error) {
	row := s.db.QueryRowContext(ctx, `select `+requestColumns+` from requests where id = $1`, id)
	r, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return requests.Request{}, fmt.Errorf("%w: request %q", requests.ErrNotFound, id)
	}
	if err != nil {
		return requests.Request{}, fmt.Errorf("find request: %w", err)
	}
	return r, nil
}

// FindPendingDuplicate matches on the same tuple the partial unique index
// guards, so a duplicate insert always resolves to exactly one row.
func (s *Store) FindPendingDuplicate(ctx context.Context, r requests.Request) (requests.Request, error) {
	c, err := flattenPayload(r.Payload)
	if err != nil {
		return requests.Request{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		select `+requestColumns+` from requests
		where status = 'PENDING'
		  and request_type = $1
		  and sender_id = $2
		  and coalesce(resource_type, '') = coalesce($3, '')
		  and coalesce(resource_id, '') = coalesce($4, '')
		  and coalesce(role, '') = coalesce($5, '')
		  and coalesce(instagram_handle, '') = coalesce($6, '')`,
		r.Type, r.SenderID, c.resourceType, c.resourceID, c.role, c.instagramHandle)
	dup, err := scanRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return requests.Request{}, fmt.Errorf("%w: no pending duplicate", requests.ErrNotFound)
	}
	if err != nil {
		return requests.Request{}, fmt.Errorf("find pending duplicate: %w", err)
	}
	return dup, nil
}

// TransitionRequest is the compare-and-set guard of the lifecycle: the
// conditional update succeeds for exactly one concurrent decider.
func (s *Store) TransitionRequest(ctx context.Context, id string, from, to requests.Status, atTime time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update requests set status = $3, updated_at = $4 where id = $1 and status = $2`,
		id, from, to, atTime.UTC())
	if err != nil {
		return fmt.Errorf("transition request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 1 {
		return nil
	}

	var current requests.Status
	err = s.db.QueryRowContext(ctx, `select status from requests where id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: request %q", requests.ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("read request status: %w", err)
	}
	return fmt.Errorf("%w: request is %s", requests.ErrInvalidState, current)
}

func (s *Store) ListRequestsForUser(ctx context.Context, userID string) ([]requests.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+requestColumns+` from requests
		where sender_id = $1 or target_user_id = $1
		order by created_at desc, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func (s *Store) ListPendingRequests(ctx context.Context) ([]requests.Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+requestColumns+` from requests
		where status = 'PENDING'
		order by created_at desc, id`)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]requests.Request, error) {
	var out []requests.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AppendApproval(ctx context.Context, a requests.Approval) error {
	_, err := s.db.ExecContext(ctx, `
		insert into approvals (id, request_type, request_id, approver_id, approved, message, created_at)
		values ($1, $2, $3, $4, $5, nullif($6, ''), $7)`,
		a.ID, a.RequestType, a.RequestID, a.ApproverID, a.Approved, a.Message, at(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("append approval: %w", mapConstraint(err))
	}
	return nil
}

func (s *Store) CreateNotification(ctx context.Context, n *requests.Notification) error {
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, user_id, kind, title, message,
			related_request_type, related_request_id, is_old, created_at)
		values ($1, $2, $3, $4, nullif($5, ''), nullif($6, ''), nullif($7, ''), $8, $9)`,
		n.ID, n.UserID, n.Kind, n.Title, n.Message,
		string(n.RelatedRequestType), n.RelatedRequestID, n.IsOld, at(n.CreatedAt))
	if err != nil {
		return fmt.Errorf("create notification: %w", mapConstraint(err))
	}
	return nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`update notifications set is_old = true where id = $1 and user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("mark notification read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: notification %q", requests.ErrNotFound, id)
	}
	return nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string) ([]requests.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, user_id, kind, title, coalesce(message, ''),
			coalesce(related_request_type, ''), coalesce(related_request_id, ''), is_old, created_at
		from notifications where user_id = $1
		order by created_at desc, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()
	var out []requests.Notification
	for rows.Next() {
		var n requests.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.Kind, &n.Title, &n.Message,
			&n.RelatedRequestType, &n.RelatedRequestID, &n.IsOld, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
