package store

import (
	"context"
	"database/sql"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewRepo(db), mock
}

func TestLoadTriggers(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "tick", "timestamp_ms", "name"}).
		AddRow(int64(1), 1000, int64(1_700_000_000), "begin").
		AddRow(int64(2), 9000, int64(1_700_086_400), "end")
	mock.ExpectQuery("SELECT id, tick, timestamp_ms/1000, name FROM trigger").WillReturnRows(rows)

	got, err := repo.LoadTriggers(context.Background())

	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "begin", got[0].Name)
	assert.Equal(t, 9000, got[1].Tick)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadTriggersQueryError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id, tick").WillReturnError(sql.ErrConnDone)

	_, err := repo.LoadTriggers(context.Background())

	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubmissionFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{"id", "user_id", "challenge_key", "flag", "timestamp_ms", "score_override", "percentage_override"}).
		AddRow(int64(42), int64(7), "pwn1", "flag{abc}", int64(1_700_000_001), nil, nil)
	mock.ExpectQuery("SELECT id, user_id, challenge_key, flag, timestamp_ms, score_override, percentage_override\\s+FROM submission WHERE id = \\$1").
		WithArgs(int64(42)).
		WillReturnRows(rows)

	got, err := repo.GetSubmission(context.Background(), 42)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pwn1", got.ChallengeKey)
	assert.Equal(t, "flag{abc}", got.Flag)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSubmissionNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT id, user_id, challenge_key, flag, timestamp_ms, score_override, percentage_override\\s+FROM submission WHERE id = \\$1").
		WithArgs(int64(99)).
		WillReturnError(sql.ErrNoRows)

	got, err := repo.GetSubmission(context.Background(), 99)

	assert.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetChallengeDecodesJSONColumns(t *testing.T) {
	repo, mock := newMockRepo(t)

	actionsJSON := `[{"type":"webpage","effective_after":0}]`
	flagsJSON := `[{"name":"flag1","type":"static","val":"ZmxhZ3tzdGF0aWN9","base_score":100}]`

	rows := sqlmock.NewRows([]string{
		"id", "effective_after", "key", "title", "category", "sorting_index",
		"desc_template", "metadata", "actions", "flags",
	}).AddRow(int64(1), 0, "pwn1", "Warmup", "pwn", 1, "desc", []byte(`{}`), []byte(actionsJSON), []byte(flagsJSON))

	mock.ExpectQuery("SELECT id, effective_after, key, title, category, sorting_index,\\s+desc_template, metadata, actions, flags\\s+FROM challenge WHERE id = \\$1").
		WithArgs(int64(1)).
		WillReturnRows(rows)

	got, err := repo.GetChallenge(context.Background(), 1)

	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "pwn1", got.Key)
	require.Len(t, got.Actions, 1)
	require.Len(t, got.Flags, 1)
	assert.Equal(t, FlagStatic, got.Flags[0].Type)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertUserReturnsGeneratedID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO app_user").
		WithArgs("alice", sqlmock.AnyArg(), "contestant", true, int64(1_700_000_000)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(10)))

	id, err := repo.InsertUser(context.Background(), UserRow{
		LoginKey: "alice", Group: "contestant", Enabled: true, TimestampMS: 1_700_000_000,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(10), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetTermsAgreed(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("UPDATE app_user SET terms_agreed = true WHERE id = \\$1").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SetTermsAgreed(context.Background(), 5)

	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFeedbackAlsoTouchesLastFeedback(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO feedback").
		WithArgs(int64(3), "pwn1", "great challenge", int64(1_700_000_500)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(77)))
	mock.ExpectExec("UPDATE app_user SET last_feedback_ms = \\$1 WHERE id = \\$2").
		WithArgs(int64(1_700_000_500), int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	id, err := repo.InsertFeedback(context.Background(), FeedbackRow{
		UserID: 3, ChallengeKey: "pwn1", Content: "great challenge", TimestampMS: 1_700_000_500,
	})

	require.NoError(t, err)
	assert.Equal(t, int64(77), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}
