package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Repo wraps a *sql.DB with the direct, hand-written queries the reducer
// uses to apply actions and the query set a worker uses to bootstrap/replay
// from scratch (§4.1, §4.4): plain database/sql + lib/pq with positional
// ($1, $2, ...) placeholders, no query builder or ORM.
type Repo struct {
	db *sql.DB
}

// NewRepo wraps an already-opened database handle.
func NewRepo(db *sql.DB) *Repo { return &Repo{db: db} }

// LoadTriggers returns every Trigger row, for bootstrap and RELOAD_TRIGGER.
func (r *Repo) LoadTriggers(ctx context.Context) ([]TriggerRow, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, tick, timestamp_ms/1000, name FROM trigger`)
	if err != nil {
		return nil, fmt.Errorf("load triggers: %w", err)
	}
	defer rows.Close()

	var out []TriggerRow
	for rows.Next() {
		var t TriggerRow
		if err := rows.Scan(&t.ID, &t.Tick, &t.TimestampS, &t.Name); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// LoadGamePolicies returns every GamePolicy row, for bootstrap and
// RELOAD_GAME_POLICY.
func (r *Repo) LoadGamePolicies(ctx context.Context) ([]GamePolicyRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, effective_after, can_view_problem, can_submit_flag,
		       can_submit_writeup, is_submission_deducted
		FROM game_policy`)
	if err != nil {
		return nil, fmt.Errorf("load game policies: %w", err)
	}
	defer rows.Close()

	var out []GamePolicyRow
	for rows.Next() {
		var p GamePolicyRow
		if err := rows.Scan(&p.ID, &p.EffectiveAfter, &p.CanViewProblem,
			&p.CanSubmitFlag, &p.CanSubmitWriteup, &p.IsSubmissionDeducted); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadAnnouncements returns every Announcement row.
func (r *Repo) LoadAnnouncements(ctx context.Context) ([]AnnouncementRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, timestamp_s, title, content_template FROM announcement`)
	if err != nil {
		return nil, fmt.Errorf("load announcements: %w", err)
	}
	defer rows.Close()

	var out []AnnouncementRow
	for rows.Next() {
		var a AnnouncementRow
		if err := rows.Scan(&a.ID, &a.TimestampS, &a.Title, &a.ContentTemplate); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// LoadChallenges returns every Challenge row with its actions/flags decoded
// from their jsonb columns (§4.1: validated Go-side before being written).
func (r *Repo) LoadChallenges(ctx context.Context) ([]ChallengeRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, effective_after, key, title, category, sorting_index,
		       desc_template, metadata, actions, flags
		FROM challenge`)
	if err != nil {
		return nil, fmt.Errorf("load challenges: %w", err)
	}
	defer rows.Close()

	var out []ChallengeRow
	for rows.Next() {
		var c ChallengeRow
		var metadata, actions, flags []byte
		if err := rows.Scan(&c.ID, &c.EffectiveAfter, &c.Key, &c.Title, &c.Category,
			&c.SortingIndex, &c.DescTemplate, &metadata, &actions, &flags); err != nil {
			return nil, err
		}
		c.Metadata = metadata
		if err := json.Unmarshal(actions, &c.Actions); err != nil {
			return nil, fmt.Errorf("challenge %q: decode actions: %w", c.Key, err)
		}
		if err := json.Unmarshal(flags, &c.Flags); err != nil {
			return nil, fmt.Errorf("challenge %q: decode flags: %w", c.Key, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LoadUsers returns every User row.
func (r *Repo) LoadUsers(ctx context.Context) ([]UserRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, login_key, login_properties, "group", enabled, token,
		       auth_token, profile_id, terms_agreed, timestamp_ms, last_feedback_ms
		FROM app_user`)
	if err != nil {
		return nil, fmt.Errorf("load users: %w", err)
	}
	defer rows.Close()

	var out []UserRow
	for rows.Next() {
		var u UserRow
		var loginProps []byte
		if err := rows.Scan(&u.ID, &u.LoginKey, &loginProps, &u.Group, &u.Enabled,
			&u.Token, &u.AuthToken, &u.ProfileID, &u.TermsAgreed, &u.TimestampMS, &u.LastFeedbackMS); err != nil {
			return nil, err
		}
		u.LoginProperties = loginProps
		out = append(out, u)
	}
	return out, rows.Err()
}

// LoadUserProfiles returns every UserProfile row.
func (r *Repo) LoadUserProfiles(ctx context.Context) ([]UserProfileRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, nickname, qq, tel, email, gender, stu_id, comment, timestamp_ms
		FROM user_profile`)
	if err != nil {
		return nil, fmt.Errorf("load user profiles: %w", err)
	}
	defer rows.Close()

	var out []UserProfileRow
	for rows.Next() {
		var p UserProfileRow
		if err := rows.Scan(&p.ID, &p.UserID, &p.Nickname, &p.QQ, &p.Tel, &p.Email,
			&p.Gender, &p.StuID, &p.Comment, &p.TimestampMS); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// LoadSubmissionsAfter returns every submission with id > afterID, in id
// order, for the replay-from-scratch path (§4.1, §4.4).
func (r *Repo) LoadSubmissionsAfter(ctx context.Context, afterID int64) ([]SubmissionRow, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, challenge_key, flag, timestamp_ms, score_override, percentage_override
		FROM submission WHERE id > $1 ORDER BY id ASC`, afterID)
	if err != nil {
		return nil, fmt.Errorf("load submissions: %w", err)
	}
	defer rows.Close()

	var out []SubmissionRow
	for rows.Next() {
		var s SubmissionRow
		if err := rows.Scan(&s.ID, &s.UserID, &s.ChallengeKey, &s.Flag, &s.TimestampMS,
			&s.ScoreOverride, &s.PercentageOverride); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSubmission fetches a single submission by id, for the worker's
// NEW_SUBMISSION/UPDATE_SUBMISSION single-row handlers.
func (r *Repo) GetSubmission(ctx context.Context, id int64) (*SubmissionRow, error) {
	var s SubmissionRow
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, challenge_key, flag, timestamp_ms, score_override, percentage_override
		FROM submission WHERE id = $1`, id).Scan(
		&s.ID, &s.UserID, &s.ChallengeKey, &s.Flag, &s.TimestampMS, &s.ScoreOverride, &s.PercentageOverride)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get submission: %w", err)
	}
	return &s, nil
}

// GetAnnouncement fetches a single announcement by id, or nil if it was
// deleted (§4.9 UPDATE_ANNOUNCEMENT covers both upsert and removal).
func (r *Repo) GetAnnouncement(ctx context.Context, id int64) (*AnnouncementRow, error) {
	var a AnnouncementRow
	err := r.db.QueryRowContext(ctx, `
		SELECT id, timestamp_s, title, content_template FROM announcement WHERE id = $1`, id).Scan(
		&a.ID, &a.TimestampS, &a.Title, &a.ContentTemplate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get announcement: %w", err)
	}
	return &a, nil
}

// GetChallenge fetches a single challenge by id, or nil if it was removed
// (§4.9 UPDATE_CHALLENGE).
func (r *Repo) GetChallenge(ctx context.Context, id int64) (*ChallengeRow, error) {
	var c ChallengeRow
	var metadata, actions, flags []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, effective_after, key, title, category, sorting_index,
		       desc_template, metadata, actions, flags
		FROM challenge WHERE id = $1`, id).Scan(&c.ID, &c.EffectiveAfter, &c.Key, &c.Title, &c.Category,
		&c.SortingIndex, &c.DescTemplate, &metadata, &actions, &flags)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	c.Metadata = metadata
	if err := json.Unmarshal(actions, &c.Actions); err != nil {
		return nil, fmt.Errorf("challenge %q: decode actions: %w", c.Key, err)
	}
	if err := json.Unmarshal(flags, &c.Flags); err != nil {
		return nil, fmt.Errorf("challenge %q: decode flags: %w", c.Key, err)
	}
	return &c, nil
}

// GetUserProfileByUserID fetches a single user's profile row, or nil if
// the user has no profile row (RegUser inserts an empty one).
func (r *Repo) GetUserProfileByUserID(ctx context.Context, userID int64) (*UserProfileRow, error) {
	var p UserProfileRow
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, nickname, qq, tel, email, gender, stu_id, comment, timestamp_ms
		FROM user_profile WHERE user_id = $1`, userID).Scan(
		&p.ID, &p.UserID, &p.Nickname, &p.QQ, &p.Tel, &p.Email, &p.Gender, &p.StuID, &p.Comment, &p.TimestampMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user profile: %w", err)
	}
	return &p, nil
}

// InsertUser inserts a new app_user row and returns its id.
func (r *Repo) InsertUser(ctx context.Context, u UserRow) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO app_user (login_key, login_properties, "group", enabled, timestamp_ms)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		u.LoginKey, []byte(u.LoginProperties), u.Group, u.Enabled, u.TimestampMS).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// InsertUserProfile inserts an (initially empty) user_profile row and
// returns its id.
func (r *Repo) InsertUserProfile(ctx context.Context, userID int64, timestampMS int64) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_profile (user_id, timestamp_ms) VALUES ($1, $2) RETURNING id`,
		userID, timestampMS).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert user profile: %w", err)
	}
	return id, nil
}

// AttachUserToken sets the signing token and profile_id on a freshly
// registered user (§4.9 RegUser).
func (r *Repo) AttachUserToken(ctx context.Context, userID int64, token string, profileID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE app_user SET token = $1, profile_id = $2 WHERE id = $3`, token, profileID, userID)
	if err != nil {
		return fmt.Errorf("attach user token: %w", err)
	}
	return nil
}

// GetUser fetches a single user by id.
func (r *Repo) GetUser(ctx context.Context, id int64) (*UserRow, error) {
	var u UserRow
	var loginProps []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT id, login_key, login_properties, "group", enabled, token,
		       auth_token, profile_id, terms_agreed, timestamp_ms, last_feedback_ms
		FROM app_user WHERE id = $1`, id).Scan(
		&u.ID, &u.LoginKey, &loginProps, &u.Group, &u.Enabled, &u.Token,
		&u.AuthToken, &u.ProfileID, &u.TermsAgreed, &u.TimestampMS, &u.LastFeedbackMS)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.LoginProperties = loginProps
	return &u, nil
}

// UpdateUserProfile overwrites a user's existing profile row in place
// (§4.9 UpdateProfile); it inserts no row when the user has none.
func (r *Repo) UpdateUserProfile(ctx context.Context, p UserProfileRow) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_profile SET nickname = $1, qq = $2, tel = $3, email = $4,
		       gender = $5, stu_id = $6, comment = $7, timestamp_ms = $8
		WHERE user_id = $9`,
		p.Nickname, p.QQ, p.Tel, p.Email, p.Gender, p.StuID, p.Comment, p.TimestampMS, p.UserID)
	if err != nil {
		return fmt.Errorf("update user profile: %w", err)
	}
	return nil
}

// SetTermsAgreed marks a user's terms_agreed flag (§4.9 AgreeTerm).
func (r *Repo) SetTermsAgreed(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE app_user SET terms_agreed = true WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("set terms agreed: %w", err)
	}
	return nil
}

// InsertSubmission appends a new submission row and returns its id.
func (r *Repo) InsertSubmission(ctx context.Context, s SubmissionRow) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO submission (user_id, challenge_key, flag, timestamp_ms)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		s.UserID, s.ChallengeKey, s.Flag, s.TimestampMS).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert submission: %w", err)
	}
	return id, nil
}

// InsertFeedback appends a new feedback row and returns its id.
func (r *Repo) InsertFeedback(ctx context.Context, f FeedbackRow) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO feedback (user_id, challenge_key, content, timestamp_ms)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		f.UserID, f.ChallengeKey, f.Content, f.TimestampMS).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	if err := r.touchLastFeedback(ctx, f.UserID, f.TimestampMS); err != nil {
		return id, err
	}
	return id, nil
}

func (r *Repo) touchLastFeedback(ctx context.Context, userID int64, timestampMS int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE app_user SET last_feedback_ms = $1 WHERE id = $2`, timestampMS, userID)
	if err != nil {
		return fmt.Errorf("touch last feedback: %w", err)
	}
	return nil
}

// InsertLog appends a Log row. internal/logging.StoreSink does not call it;
// the sink issues the same INSERT on its own database handle.
func (r *Repo) InsertLog(ctx context.Context, l LogRow) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO log (timestamp_ms, level, process, module, message) VALUES ($1, $2, $3, $4, $5)`,
		l.TimestampMS, l.Level, l.Process, l.Module, l.Message)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}
