package pg

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"crewarchive.org/internal/requests"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewWithDB(db), mock
}

func expectDone(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestInsertRequestMapsUniqueViolation(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("insert into requests")).
		WillReturnError(&pgconn.PgError{Code: pgUniqueViolation, ConstraintName: "requests_pending_tuple"})

	req := requests.Request{
		ID:       "r1",
		Type:     requests.TypeTagging,
		Status:   requests.StatusPending,
		SenderID: "base",
		Payload:  requests.TaggingPayload{ResourceType: requests.ResourceEvent, ResourceID: "e1", Role: "winner"},
	}
	err := store.InsertRequest(context.Background(), &req)
	if !errors.Is(err, requests.ErrDuplicatePending) {
		t.Fatalf("expected ErrDuplicatePending, got %v", err)
	}
	expectDone(t, mock)
}

func TestAddRoleTagMapsForeignKeyViolation(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("insert into role_tags")).
		WillReturnError(&pgconn.PgError{Code: pgForeignKeyViolation})

	tag := requests.RoleTag{ResourceType: requests.ResourceEvent, ResourceID: "gone", UserID: "u1", Role: "winner"}
	err := store.AddRoleTag(context.Background(), tag)
	if !errors.Is(err, requests.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func TestTransitionRequestCAS(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("update requests set status")).
		WithArgs("r1", string(requests.StatusPending), string(requests.StatusApproved), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.TransitionRequest(context.Background(), "r1", requests.StatusPending, requests.StatusApproved, now)
	if err != nil {
		t.Fatalf("TransitionRequest: %v", err)
	}
	expectDone(t, mock)
}

func TestTransitionRequestLostRace(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("update requests set status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select status from requests")).
		WithArgs("r1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("DENIED"))

	err := store.TransitionRequest(context.Background(), "r1", requests.StatusPending, requests.StatusApproved, now)
	if !errors.Is(err, requests.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	expectDone(t, mock)
}

func TestTransitionRequestMissingRow(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("update requests set status")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta("select status from requests")).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := store.TransitionRequest(context.Background(), "gone", requests.StatusPending, requests.StatusCancelled, time.Now())
	if !errors.Is(err, requests.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func TestFindUserNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery("select .+ from users where id").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.FindUser(context.Background(), "nobody")
	if !errors.Is(err, requests.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func TestMarkNotificationReadWrongOwner(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta("update notifications set is_old")).
		WithArgs("n1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.MarkNotificationRead(context.Background(), "n1", "intruder")
	if !errors.Is(err, requests.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	expectDone(t, mock)
}

func mergeSpec() requests.MergeSpec {
	return requests.MergeSpec{
		SourceUserID:    "ghost",
		TargetUserID:    "claimer",
		InstagramHandle: "ghost_handle",
	}
}

func expectMergeLocks(mock sqlmock.Sqlmock) {
	// Locks run in sorted id order: claimer before ghost.
	mock.ExpectQuery("select coalesce.+ from users where id = .+ for update").
		WithArgs("claimer").
		WillReturnRows(sqlmock.NewRows([]string{"instagram_handle", "claimed"}).AddRow("", true))
	mock.ExpectQuery("select coalesce.+ from users where id = .+ for update").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"instagram_handle", "claimed"}).AddRow("ghost_handle", false))
}

func TestMergeAccountsCommitsAllSteps(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	expectMergeLocks(mock)
	mock.ExpectExec(regexp.QuoteMeta("delete from role_tags src")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("update role_tags set user_id")).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("delete from memberships src")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("update memberships set user_id")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("update resources set creator_id")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("update requests set target_user_id")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("update users set instagram_handle = null")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("update users set instagram_handle = $2")).
		WithArgs("claimer", "ghost_handle").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("delete from users where id")).
		WithArgs("ghost").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := store.MergeAccounts(context.Background(), mergeSpec()); err != nil {
		t.Fatalf("MergeAccounts: %v", err)
	}
	expectDone(t, mock)
}

func TestMergeAccountsRollsBackOnFailure(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	expectMergeLocks(mock)
	mock.ExpectExec(regexp.QuoteMeta("delete from role_tags src")).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := store.MergeAccounts(context.Background(), mergeSpec())
	if err == nil {
		t.Fatal("expected merge failure")
	}
	expectDone(t, mock)
}

func TestMergeAccountsRejectsClaimedSource(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery("select coalesce.+ from users where id = .+ for update").
		WithArgs("claimer").
		WillReturnRows(sqlmock.NewRows([]string{"instagram_handle", "claimed"}).AddRow("", true))
	mock.ExpectQuery("select coalesce.+ from users where id = .+ for update").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"instagram_handle", "claimed"}).AddRow("ghost_handle", true))
	mock.ExpectRollback()

	err := store.MergeAccounts(context.Background(), mergeSpec())
	if !errors.Is(err, requests.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	expectDone(t, mock)
}
