package reducer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pku-geekgame/ctf-core/internal/apperrors"
	"github.com/pku-geekgame/ctf-core/internal/glitter"
	"github.com/pku-geekgame/ctf-core/internal/store"
)

// handleAction dispatches one decoded action request (§4.9), validating the
// SSRF token first as the original reducer does, then branching per
// ActionType. RegUser, UpdateProfile, AgreeTerm and SubmitFlag commit to
// SQL, advance the state counter by exactly one, and emit the matching
// event; WorkerHello and WorkerHeartbeat change neither, and SubmitFeedback
// commits its row without advancing the counter or emitting an event. A
// rejection leaves the counter untouched, preserving the post-pre in {0,1}
// invariant.
func (r *Reducer) handleAction(ctx context.Context, req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	if req.SSRFToken != r.cfg.SSRFToken {
		return r.reject(apperrors.Validation("packet validation failed"))
	}

	switch req.Type {
	case glitter.ActionWorkerHello:
		return r.handleWorkerHello(req)
	case glitter.ActionWorkerHeartbeat:
		return r.handleWorkerHeartbeat(req)
	case glitter.ActionRegUser:
		return r.handleRegUser(ctx, req)
	case glitter.ActionUpdateProfile:
		return r.handleUpdateProfile(ctx, req)
	case glitter.ActionAgreeTerm:
		return r.handleAgreeTerm(ctx, req)
	case glitter.ActionSubmitFlag:
		return r.handleSubmitFlag(ctx, req)
	case glitter.ActionSubmitFeedback:
		return r.handleSubmitFeedback(ctx, req)
	default:
		return r.reject(apperrors.Validation("unknown action: %s", req.Type))
	}
}

func (r *Reducer) reject(err *apperrors.Error) (glitter.ActionReply, apperrors.Code) {
	msg := apperrors.ClientMessage(err)
	return glitter.ActionReply{ErrorMsg: &msg, StateCounter: r.stateCounter}, err.Code
}

func (r *Reducer) ok() glitter.ActionReply {
	return glitter.ActionReply{StateCounter: r.stateCounter}
}

type workerHelloPayload struct {
	ProtocolVer string `json:"protocol_ver"`
}

func (r *Reducer) handleWorkerHello(req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	var p workerHelloPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return r.reject(apperrors.Validation("malformed worker_hello payload"))
	}
	if p.ProtocolVer != glitter.ProtocolVersion {
		return r.reject(apperrors.Validation(
			"protocol version mismatch: worker %s, reducer %s", p.ProtocolVer, glitter.ProtocolVersion))
	}
	return r.ok(), ""
}

type workerHeartbeatPayload struct {
	ClientName string `json:"client_name"`
}

func (r *Reducer) handleWorkerHeartbeat(req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	var p workerHeartbeatPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return r.reject(apperrors.Validation("malformed worker_heartbeat payload"))
	}
	if r.met != nil {
		r.met.HeartbeatAge.WithLabelValues(p.ClientName).Set(0)
	}
	return r.ok(), ""
}

type regUserPayload struct {
	LoginKey        string          `json:"login_key"`
	LoginProperties json.RawMessage `json:"login_properties"`
	Group           string          `json:"group"`
}

func (r *Reducer) handleRegUser(ctx context.Context, req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	var p regUserPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return r.reject(apperrors.Validation("malformed reg_user payload"))
	}
	if p.LoginKey == "" || p.Group == "" {
		return r.reject(apperrors.Validation("login_key and group are required"))
	}

	now := time.Now().UnixMilli()
	uid, err := r.repo.InsertUser(ctx, store.UserRow{
		LoginKey:        p.LoginKey,
		LoginProperties: p.LoginProperties,
		Group:           p.Group,
		Enabled:         true,
		TimestampMS:     now,
	})
	if err != nil {
		return r.reject(apperrors.BusinessRule("registration failed: %v", err))
	}

	profileID, err := r.repo.InsertUserProfile(ctx, uid, now)
	if err != nil {
		return r.reject(apperrors.BusinessRule("registration failed: %v", err))
	}

	var token string
	if r.cfg.Signer != nil {
		token, err = r.cfg.Signer.SignUserID(uid)
		if err != nil {
			return r.reject(apperrors.BusinessRule("registration failed: %v", err))
		}
	}
	if err := r.repo.AttachUserToken(ctx, uid, token, profileID); err != nil {
		return r.reject(apperrors.BusinessRule("registration failed: %v", err))
	}

	r.emitEvent(ctx, glitter.EventUpdateUser, uid)
	return r.ok(), ""
}

type updateProfilePayload struct {
	UID     int64             `json:"uid"`
	Profile map[string]string `json:"profile"`
}

func (r *Reducer) handleUpdateProfile(ctx context.Context, req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	var p updateProfilePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return r.reject(apperrors.Validation("malformed update_profile payload"))
	}

	user, err := r.repo.GetUser(ctx, p.UID)
	if err != nil {
		return r.reject(apperrors.Internal("update_profile failed", err))
	}
	if user == nil {
		return r.reject(apperrors.BusinessRule("user not found"))
	}

	if nickname, ok := p.Profile["nickname"]; ok {
		if verr := store.ValidateNickname(nickname); verr != nil {
			return r.reject(apperrors.Validation("invalid nickname: %v", verr))
		}
	}

	row := profileRowFromMap(p.UID, p.Profile)
	if err := r.repo.UpdateUserProfile(ctx, row); err != nil {
		return r.reject(apperrors.BusinessRule("update_profile failed: %v", err))
	}

	r.emitEvent(ctx, glitter.EventUpdateUser, p.UID)
	return r.ok(), ""
}

func profileRowFromMap(uid int64, m map[string]string) store.UserProfileRow {
	row := store.UserProfileRow{UserID: uid, TimestampMS: time.Now().UnixMilli()}
	strp := func(k string) *string {
		if v, ok := m[k]; ok {
			return &v
		}
		return nil
	}
	row.Nickname = strp("nickname")
	row.QQ = strp("qq")
	row.Tel = strp("tel")
	row.Email = strp("email")
	row.Gender = strp("gender")
	row.StuID = strp("stu_id")
	row.Comment = strp("comment")
	return row
}

type agreeTermPayload struct {
	UID int64 `json:"uid"`
}

func (r *Reducer) handleAgreeTerm(ctx context.Context, req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	var p agreeTermPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return r.reject(apperrors.Validation("malformed agree_term payload"))
	}
	if err := r.repo.SetTermsAgreed(ctx, p.UID); err != nil {
		return r.reject(apperrors.BusinessRule("agree_term failed: %v", err))
	}
	r.emitEvent(ctx, glitter.EventUpdateUser, p.UID)
	return r.ok(), ""
}

type submitFlagPayload struct {
	UID          int64  `json:"uid"`
	ChallengeKey string `json:"challenge_key"`
	Flag         string `json:"flag"`
}

func (r *Reducer) handleSubmitFlag(ctx context.Context, req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	var p submitFlagPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return r.reject(apperrors.Validation("malformed submit_flag payload"))
	}
	if err := store.CheckFlagFormat(p.Flag); err != nil {
		return r.reject(apperrors.Validation("bad flag format: %v", err))
	}
	if r.game.Policy.CurPolicy == nil || !r.game.Policy.CurPolicy.CanSubmitFlag {
		return r.reject(apperrors.BusinessRule("flag submission is not open right now"))
	}

	sid, err := r.repo.InsertSubmission(ctx, store.SubmissionRow{
		UserID:       p.UID,
		ChallengeKey: p.ChallengeKey,
		Flag:         p.Flag,
		TimestampMS:  time.Now().UnixMilli(),
	})
	if err != nil {
		return r.reject(apperrors.BusinessRule("submit_flag failed: %v", err))
	}

	r.emitEvent(ctx, glitter.EventNewSubmission, sid)
	return r.ok(), ""
}

// FeedbackCooldown is the minimum spacing between a user's feedback
// submissions (§3, §7).
const FeedbackCooldown = time.Hour

type submitFeedbackPayload struct {
	UID          int64  `json:"uid"`
	ChallengeKey string `json:"challenge_key"`
	Content      string `json:"content"`
}

func (r *Reducer) handleSubmitFeedback(ctx context.Context, req glitter.ActionRequest) (glitter.ActionReply, apperrors.Code) {
	var p submitFeedbackPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return r.reject(apperrors.Validation("malformed submit_feedback payload"))
	}
	if p.Content == "" {
		return r.reject(apperrors.Validation("feedback content is required"))
	}

	user, err := r.repo.GetUser(ctx, p.UID)
	if err != nil {
		return r.reject(apperrors.BusinessRule("submit_feedback failed: %v", err))
	}
	if user == nil {
		return r.reject(apperrors.BusinessRule("user not found"))
	}
	now := time.Now().UnixMilli()
	if user.LastFeedbackMS != nil {
		if wait := *user.LastFeedbackMS + FeedbackCooldown.Milliseconds() - now; wait > 0 {
			return r.reject(apperrors.BusinessRule("feedback cooldown: try again in %dms", wait))
		}
	}

	if _, err := r.repo.InsertFeedback(ctx, store.FeedbackRow{
		UserID:       p.UID,
		ChallengeKey: p.ChallengeKey,
		Content:      p.Content,
		TimestampMS:  now,
	}); err != nil {
		return r.reject(apperrors.BusinessRule("submit_feedback failed: %v", err))
	}

	return r.ok(), ""
}
