package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"crewarchive.org/internal/requests"
)

// MergeAccounts absorbs the source profile into the target in one
// transaction. Both user rows are locked in sorted id order, the claim is
// re-validated under the lock, then tags, memberships, authored resources
// and request targets move over before the source row is deleted. The
// deletion cascades the source's own requests, notifications and city
// assignments.
func (s *Store) MergeAccounts(ctx context.Context, spec requests.MergeSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin merge: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	locked, err := lockUsers(ctx, tx, spec.SourceUserID, spec.TargetUserID)
	if err != nil {
		return err
	}
	source, ok := locked[spec.SourceUserID]
	if !ok {
		return fmt.Errorf("%w: user %q", requests.ErrNotFound, spec.SourceUserID)
	}
	if _, ok := locked[spec.TargetUserID]; !ok {
		return fmt.Errorf("%w: user %q", requests.ErrNotFound, spec.TargetUserID)
	}
	if source.claimed {
		return fmt.Errorf("%w: profile already claimed", requests.ErrInvalidState)
	}
	if !strings.EqualFold(source.handle, spec.InstagramHandle) {
		return fmt.Errorf("%w: handle mismatch", requests.ErrInvalidState)
	}

	if spec.WipeRelationships {
		if _, err := tx.ExecContext(ctx,
			`delete from role_tags where user_id = $1`, spec.SourceUserID); err != nil {
			return fmt.Errorf("wipe role tags: %w", err)
		}
	} else {
		// Drop edges the target already has, then move the rest.
		if _, err := tx.ExecContext(ctx, `
			delete from role_tags src
			where src.user_id = $1
			  and exists (
				select 1 from role_tags dst
				where dst.user_id = $2
				  and dst.resource_type = src.resource_type
				  and dst.resource_id = src.resource_id
				  and dst.role = src.role)`,
			spec.SourceUserID, spec.TargetUserID); err != nil {
			return fmt.Errorf("dedup role tags: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`update role_tags set user_id = $2 where user_id = $1`,
			spec.SourceUserID, spec.TargetUserID); err != nil {
			return fmt.Errorf("reassign role tags: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		delete from memberships src
		where src.user_id = $1
		  and exists (
			select 1 from memberships dst
			where dst.user_id = $2
			  and dst.resource_type = src.resource_type
			  and dst.resource_id = src.resource_id
			  and dst.relation = src.relation)`,
		spec.SourceUserID, spec.TargetUserID); err != nil {
		return fmt.Errorf("dedup memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`update memberships set user_id = $2 where user_id = $1`,
		spec.SourceUserID, spec.TargetUserID); err != nil {
		return fmt.Errorf("reassign memberships: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`update resources set creator_id = $2 where creator_id = $1`,
		spec.SourceUserID, spec.TargetUserID); err != nil {
		return fmt.Errorf("reassign authored resources: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`update requests set target_user_id = $2 where target_user_id = $1`,
		spec.SourceUserID, spec.TargetUserID); err != nil {
		return fmt.Errorf("repoint request targets: %w", err)
	}

	// Free the unique handle before handing it to the target.
	if _, err := tx.ExecContext(ctx,
		`update users set instagram_handle = null where id = $1`, spec.SourceUserID); err != nil {
		return fmt.Errorf("release handle: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		update users set instagram_handle = $2, claimed = true, updated_at = now()
		where id = $1`, spec.TargetUserID, source.handle); err != nil {
		return fmt.Errorf("claim handle: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`delete from users where id = $1`, spec.SourceUserID); err != nil {
		return fmt.Errorf("delete source user: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit merge: %w", err)
	}
	return nil
}

type lockedUser struct {
	handle  string
	claimed bool
}

// lockUsers takes row locks in sorted id order so two merges touching the
// same pair cannot deadlock.
func lockUsers(ctx context.Context, tx *sql.Tx, ids ...string) (map[string]lockedUser, error) {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make(map[string]lockedUser, len(sorted))
	for _, id := range sorted {
		var lu lockedUser
		err := tx.QueryRowContext(ctx,
			`select coalesce(instagram_handle, ''), claimed from users where id = $1 for update`, id).
			Scan(&lu.handle, &lu.claimed)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("lock user %q: %w", id, err)
		}
		out[id] = lu
	}
	return out, nil
}
