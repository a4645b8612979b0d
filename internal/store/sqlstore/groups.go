package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/store"
)

const groupColumns = `id, creator_id, name, photo_url, allow_media, allow_voice, allow_video, allow_reactions, created_at, last_message_at`

const memberColumns = `chat_id, user_id, role, status, joined_at, updated_at, departed_at, last_seen_at`

// privilegedGuard is true when the bound (chat_id, user_id) holds an active
// admin or creator membership at the moment the statement runs.
const privilegedGuard = `EXISTS (SELECT 1 FROM group_memberships p
	WHERE p.chat_id = ? AND p.user_id = ? AND p.status = 'active' AND p.role IN ('admin', 'creator'))`

func (s *SQLStore) CreateGroup(ctx context.Context, chat *models.GroupChat) error {
	return s.withTx(ctx, "CreateGroup", func(tx *sql.Tx) error {
		query := s.rebind(`INSERT INTO group_chats (` + groupColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)`)
		if _, err := tx.ExecContext(ctx, query,
			chat.ID, chat.CreatorID, nullableString(chat.Name), nullableString(chat.PhotoURL),
			chat.AllowMedia, chat.AllowVoice, chat.AllowVideo, chat.AllowReactions, nanos(chat.CreatedAt),
		); err != nil {
			return err
		}

		query = s.rebind(`INSERT INTO group_memberships (chat_id, user_id, role, status, joined_at, updated_at)
			VALUES (?, ?, 'creator', 'active', ?, ?)`)
		_, err := tx.ExecContext(ctx, query, chat.ID, chat.CreatorID, nanos(chat.CreatedAt), nanos(chat.CreatedAt))
		return err
	})
}

func (s *SQLStore) GetGroup(ctx context.Context, chatID string) (*models.GroupChat, error) {
	chat, err := s.getGroup(ctx, s.db, chatID)
	if errorsIsNoRows(err) {
		return nil, apperrors.ErrChatNotFound
	}
	return chat, s.classify("GetGroup", err)
}

func (s *SQLStore) getGroup(ctx context.Context, q querier, chatID string) (*models.GroupChat, error) {
	var (
		chat          models.GroupChat
		name, photo   sql.NullString
		createdAt     int64
		lastMessageAt sql.NullInt64
	)
	query := s.rebind(`SELECT ` + groupColumns + ` FROM group_chats WHERE id = ?`)
	err := q.QueryRowContext(ctx, query, chatID).Scan(
		&chat.ID, &chat.CreatorID, &name, &photo,
		&chat.AllowMedia, &chat.AllowVoice, &chat.AllowVideo, &chat.AllowReactions,
		&createdAt, &lastMessageAt,
	)
	if err != nil {
		return nil, err
	}
	chat.Name = nullString(name)
	chat.PhotoURL = nullString(photo)
	chat.CreatedAt = fromNanos(createdAt)
	chat.LastMessageAt = nullTime(lastMessageAt)
	return &chat, nil
}

// UpdateGroup applies the whitelisted attributes when the caller is
// privileged at write time.
func (s *SQLStore) UpdateGroup(ctx context.Context, chatID, callerID string, attrs models.GroupAttrs) (*models.GroupChat, error) {
	var sets []string
	var args []any
	add := func(column string, value any) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}
	if attrs.Name != nil {
		add("name", *attrs.Name)
	}
	if attrs.PhotoURL != nil {
		add("photo_url", *attrs.PhotoURL)
	}
	if attrs.AllowMedia != nil {
		add("allow_media", *attrs.AllowMedia)
	}
	if attrs.AllowVoice != nil {
		add("allow_voice", *attrs.AllowVoice)
	}
	if attrs.AllowVideo != nil {
		add("allow_video", *attrs.AllowVideo)
	}
	if attrs.AllowReactions != nil {
		add("allow_reactions", *attrs.AllowReactions)
	}

	var chat *models.GroupChat
	err := s.withTx(ctx, "UpdateGroup", func(tx *sql.Tx) error {
		if len(sets) > 0 {
			query := s.rebind(`UPDATE group_chats SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND ` + privilegedGuard)
			res, err := tx.ExecContext(ctx, query, append(args, chatID, chatID, callerID)...)
			if err != nil {
				return err
			}
			if n, err := res.RowsAffected(); err != nil {
				return err
			} else if n == 0 {
				return s.explainDenied(ctx, tx, chatID, callerID)
			}
		} else {
			caller, err := s.getMember(ctx, tx, chatID, callerID)
			if err != nil {
				return err
			}
			if !caller.Privileged() {
				return s.explainDenied(ctx, tx, chatID, callerID)
			}
		}
		var err error
		chat, err = s.getGroup(ctx, tx, chatID)
		return err
	})
	return chat, err
}

// explainDenied turns a conditional write that touched nothing into
// NotFound or Forbidden.
func (s *SQLStore) explainDenied(ctx context.Context, q querier, chatID, callerID string) error {
	if _, err := s.getGroup(ctx, q, chatID); err != nil {
		if errorsIsNoRows(err) {
			return apperrors.ErrChatNotFound
		}
		return err
	}
	return apperrors.ErrNotPrivileged
}

func (s *SQLStore) GetMember(ctx context.Context, chatID, userID string) (*models.GroupMembership, error) {
	m, err := s.getMember(ctx, s.db, chatID, userID)
	return m, s.classify("GetMember", err)
}

// getMember returns nil, nil when no row exists.
func (s *SQLStore) getMember(ctx context.Context, q querier, chatID, userID string) (*models.GroupMembership, error) {
	query := s.rebind(`SELECT ` + memberColumns + ` FROM group_memberships WHERE chat_id = ? AND user_id = ?`)
	m, err := scanMember(q.QueryRowContext(ctx, query, chatID, userID))
	if errorsIsNoRows(err) {
		return nil, nil
	}
	return m, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*models.GroupMembership, error) {
	var (
		m                    models.GroupMembership
		role, status         string
		joinedAt, updatedAt  int64
		departedAt, lastSeen sql.NullInt64
	)
	if err := row.Scan(&m.ChatID, &m.UserID, &role, &status, &joinedAt, &updatedAt, &departedAt, &lastSeen); err != nil {
		return nil, err
	}
	m.Role = models.Role(role)
	m.Status = models.Status(status)
	m.JoinedAt = fromNanos(joinedAt)
	m.UpdatedAt = fromNanos(updatedAt)
	m.DepartedAt = nullTime(departedAt)
	m.LastSeenAt = nullTime(lastSeen)
	return &m, nil
}

// ListMembers returns current and pending members, oldest first.
func (s *SQLStore) ListMembers(ctx context.Context, chatID string) ([]models.GroupMembership, error) {
	query := s.rebind(`SELECT ` + memberColumns + ` FROM group_memberships
		WHERE chat_id = ? AND status IN ('active', 'muted', 'pending')
		ORDER BY joined_at ASC, user_id ASC`)
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, s.classify("ListMembers", err)
	}
	defer rows.Close()

	var members []models.GroupMembership
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, s.classify("ListMembers", err)
		}
		members = append(members, *m)
	}
	return members, s.classify("ListMembers", rows.Err())
}

func (s *SQLStore) ActiveMemberIDs(ctx context.Context, chatID string) ([]string, error) {
	query := s.rebind(`SELECT user_id FROM group_memberships WHERE chat_id = ? AND status = 'active' ORDER BY user_id`)
	rows, err := s.db.QueryContext(ctx, query, chatID)
	if err != nil {
		return nil, s.classify("ActiveMemberIDs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, s.classify("ActiveMemberIDs", err)
		}
		ids = append(ids, id)
	}
	return ids, s.classify("ActiveMemberIDs", rows.Err())
}

// AddMembers upserts one membership per user in a single transaction. New
// rows become active members; departed or pending rows are reactivated with
// their role kept; current members are left alone.
func (s *SQLStore) AddMembers(ctx context.Context, chatID, callerID string, userIDs []string, at time.Time) ([]models.AddResult, error) {
	var results []models.AddResult
	err := s.withTx(ctx, "AddMembers", func(tx *sql.Tx) error {
		results = results[:0]
		caller, err := s.getMember(ctx, tx, chatID, callerID)
		if err != nil {
			return err
		}
		if !caller.Privileged() {
			return s.explainDenied(ctx, tx, chatID, callerID)
		}

		upsert := s.rebind(`INSERT INTO group_memberships (chat_id, user_id, role, status, joined_at, updated_at)
			SELECT ?, ?, 'member', 'active', CAST(? AS BIGINT), CAST(? AS BIGINT) WHERE ` + privilegedGuard + `
			ON CONFLICT (chat_id, user_id) DO UPDATE
				SET status = 'active', departed_at = NULL, updated_at = excluded.updated_at
				WHERE group_memberships.status IN ('left', 'removed', 'pending')`)

		for _, userID := range userIDs {
			prior, err := s.getMember(ctx, tx, chatID, userID)
			if err != nil {
				return err
			}
			res, err := tx.ExecContext(ctx, upsert, chatID, userID, nanos(at), nanos(at), chatID, callerID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}

			result := models.AddResult{UserID: userID, Status: models.StatusActive}
			switch {
			case n == 0 && prior != nil && prior.Status.Current():
				result.Outcome = models.OutcomeUnchanged
				result.Status = prior.Status
			case n == 0:
				// Lost privilege between the check and the write.
				return apperrors.ErrNotPrivileged
			case prior == nil:
				result.Outcome = models.OutcomeAdded
			default:
				result.Outcome = models.OutcomeReactivated
				result.Conflict = prior.Status.Departed()
			}
			results = append(results, result)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

func (s *SQLStore) TransitionMember(ctx context.Context, t store.MemberTransition) (bool, error) {
	if len(t.From) == 0 {
		return false, apperrors.InvalidArg("transition needs at least one source status")
	}

	sets := `status = ?, updated_at = ?`
	args := []any{string(t.To), nanos(t.At)}
	if t.To.Departed() {
		sets += `, departed_at = ?`
		args = append(args, nanos(t.At))
	}

	query := `UPDATE group_memberships SET ` + sets + ` WHERE chat_id = ? AND user_id = ? AND status IN (` + placeholders(len(t.From)) + `)`
	args = append(args, t.ChatID, t.TargetID)
	for _, st := range t.From {
		args = append(args, string(st))
	}
	if len(t.TargetRoles) > 0 {
		query += ` AND role IN (` + placeholders(len(t.TargetRoles)) + `)`
		for _, r := range t.TargetRoles {
			args = append(args, string(r))
		}
	}
	if len(t.ActorRoles) > 0 {
		query += ` AND EXISTS (SELECT 1 FROM group_memberships a
			WHERE a.chat_id = ? AND a.user_id = ? AND a.status = 'active' AND a.role IN (` + placeholders(len(t.ActorRoles)) + `))`
		args = append(args, t.ChatID, t.ActorID)
		for _, r := range t.ActorRoles {
			args = append(args, string(r))
		}
	}

	res, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return false, s.classify("TransitionMember", err)
	}
	n, err := res.RowsAffected()
	return n > 0, s.classify("TransitionMember", err)
}

// SetRole moves a current member between member and admin. Only the active
// creator may do this; the creator row itself never changes role.
func (s *SQLStore) SetRole(ctx context.Context, chatID, callerID, targetID string, role models.Role, at time.Time) (bool, error) {
	if role != models.RoleMember && role != models.RoleAdmin {
		return false, apperrors.InvalidArg("role must be member or admin")
	}
	query := s.rebind(`UPDATE group_memberships SET role = ?, updated_at = ?
		WHERE chat_id = ? AND user_id = ? AND role IN ('member', 'admin') AND status IN ('active', 'muted')
		AND EXISTS (SELECT 1 FROM group_memberships a
			WHERE a.chat_id = ? AND a.user_id = ? AND a.status = 'active' AND a.role = 'creator')`)
	res, err := s.db.ExecContext(ctx, query, string(role), nanos(at), chatID, targetID, chatID, callerID)
	if err != nil {
		return false, s.classify("SetRole", err)
	}
	n, err := res.RowsAffected()
	return n > 0, s.classify("SetRole", err)
}

// RequestJoin creates a pending row when the user has none.
func (s *SQLStore) RequestJoin(ctx context.Context, chatID, userID string, at time.Time) (bool, error) {
	var created bool
	err := s.withTx(ctx, "RequestJoin", func(tx *sql.Tx) error {
		if _, err := s.getGroup(ctx, tx, chatID); err != nil {
			if errorsIsNoRows(err) {
				return apperrors.ErrChatNotFound
			}
			return err
		}
		query := s.rebind(`INSERT INTO group_memberships (chat_id, user_id, role, status, joined_at, updated_at)
			VALUES (?, ?, 'member', 'pending', ?, ?)
			ON CONFLICT (chat_id, user_id) DO NOTHING`)
		res, err := tx.ExecContext(ctx, query, chatID, userID, nanos(at), nanos(at))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		created = n > 0
		return err
	})
	return created, err
}

// MarkGroupSeen only ever moves last_seen_at forward.
func (s *SQLStore) MarkGroupSeen(ctx context.Context, chatID, userID string, at time.Time) error {
	query := s.rebind(`UPDATE group_memberships SET last_seen_at = ?
		WHERE chat_id = ? AND user_id = ? AND (last_seen_at IS NULL OR last_seen_at < ?)`)
	_, err := s.db.ExecContext(ctx, query, nanos(at), chatID, userID, nanos(at))
	return s.classify("MarkGroupSeen", err)
}

func errorsIsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
