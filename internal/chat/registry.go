package chat

import (
	"context"
	"strings"

	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/apperrors"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/models"
	"github.com/DonBabu-ux/sparkle-version-003-sub000/internal/store"
)

// MembershipChange is the payload of a membership event.
type MembershipChange struct {
	ChatID  string        `json:"chat_id"`
	UserID  string        `json:"user_id"`
	ActorID string        `json:"actor_id"`
	Role    models.Role   `json:"role"`
	Status  models.Status `json:"status"`
}

var privilegedRoles = []models.Role{models.RoleAdmin, models.RoleCreator}

var currentStatuses = []models.Status{models.StatusActive, models.StatusMuted}

// CreateGroup creates the chat and its creator membership. Capability flags
// default to on.
func (s *Service) CreateGroup(ctx context.Context, creatorID string, attrs models.GroupAttrs) (*models.GroupChat, error) {
	if creatorID == "" {
		return nil, apperrors.Unauthenticated("missing user")
	}
	chat := &models.GroupChat{
		ID:             newID(),
		CreatorID:      creatorID,
		Name:           trimmed(attrs.Name),
		PhotoURL:       trimmed(attrs.PhotoURL),
		AllowMedia:     flag(attrs.AllowMedia),
		AllowVoice:     flag(attrs.AllowVoice),
		AllowVideo:     flag(attrs.AllowVideo),
		AllowReactions: flag(attrs.AllowReactions),
		CreatedAt:      s.clock.Now().UTC(),
	}
	if err := s.store.CreateGroup(ctx, chat); err != nil {
		return nil, err
	}
	s.logger.Info("group created", "chat_id", chat.ID, "creator_id", creatorID)
	return chat, nil
}

// AddMembers adds or brings back users. Duplicates and blanks in userIDs are
// dropped; the caller may appear in the list and is reported unchanged.
func (s *Service) AddMembers(ctx context.Context, chatID, callerID string, userIDs []string) ([]models.AddResult, error) {
	ids := dedupe(userIDs)
	if len(ids) == 0 {
		return nil, apperrors.InvalidArg("user_ids must name at least one user")
	}
	results, err := s.store.AddMembers(ctx, chatID, callerID, ids, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}

	var changes []MembershipChange
	for _, r := range results {
		if r.Outcome == models.OutcomeUnchanged {
			continue
		}
		m, err := s.store.GetMember(ctx, chatID, r.UserID)
		if err != nil || m == nil {
			continue
		}
		changes = append(changes, MembershipChange{ChatID: chatID, UserID: r.UserID, ActorID: callerID, Role: m.Role, Status: m.Status})
	}
	s.publishMembership(ctx, chatID, changes...)
	return results, nil
}

// UpdateGroup applies the whitelisted attributes. Blank names and photo URLs
// are stored as given so a caller can clear them.
func (s *Service) UpdateGroup(ctx context.Context, chatID, callerID string, attrs models.GroupAttrs) (*models.GroupChat, error) {
	return s.store.UpdateGroup(ctx, chatID, callerID, attrs)
}

func (s *Service) GetGroup(ctx context.Context, chatID, callerID string) (*models.GroupChat, error) {
	chat, err := s.store.GetGroup(ctx, chatID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMember(ctx, chatID, callerID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.ErrNotMember
	}
	return chat, nil
}

func (s *Service) GetMember(ctx context.Context, chatID, userID string) (*models.GroupMembership, error) {
	return s.store.GetMember(ctx, chatID, userID)
}

func (s *Service) IsPrivileged(ctx context.Context, chatID, userID string) (bool, error) {
	m, err := s.store.GetMember(ctx, chatID, userID)
	if err != nil {
		return false, err
	}
	return m.Privileged(), nil
}

// ListMembers returns current members. Pending requests are included for
// privileged callers only.
func (s *Service) ListMembers(ctx context.Context, chatID, callerID string) ([]models.GroupMembership, error) {
	if _, err := s.store.GetGroup(ctx, chatID); err != nil {
		return nil, err
	}
	caller, err := s.store.GetMember(ctx, chatID, callerID)
	if err != nil {
		return nil, err
	}
	if caller == nil || !caller.Status.Current() {
		return nil, apperrors.ErrNotMember
	}

	members, err := s.store.ListMembers(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if caller.Privileged() {
		return members, nil
	}
	visible := members[:0]
	for _, m := range members {
		if m.Status != models.StatusPending {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

func (s *Service) RemoveMember(ctx context.Context, chatID, callerID, targetID string) error {
	if callerID == targetID {
		return apperrors.InvalidArg("use leave to remove yourself")
	}
	return s.moderate(ctx, chatID, callerID, targetID, models.StatusRemoved, currentStatuses)
}

func (s *Service) MuteMember(ctx context.Context, chatID, callerID, targetID string) error {
	return s.moderate(ctx, chatID, callerID, targetID, models.StatusMuted, []models.Status{models.StatusActive})
}

func (s *Service) UnmuteMember(ctx context.Context, chatID, callerID, targetID string) error {
	return s.moderate(ctx, chatID, callerID, targetID, models.StatusActive, []models.Status{models.StatusMuted})
}

// ApproveMember admits a pending join request.
func (s *Service) ApproveMember(ctx context.Context, chatID, callerID, targetID string) error {
	return s.moderate(ctx, chatID, callerID, targetID, models.StatusActive, []models.Status{models.StatusPending})
}

// moderate is a privileged caller moving another member's status. Admins
// act on members only; the creator acts on members and admins; nobody acts
// on the creator.
func (s *Service) moderate(ctx context.Context, chatID, callerID, targetID string, to models.Status, from []models.Status) error {
	check := func(caller, target *models.GroupMembership) error {
		if !caller.Privileged() {
			return apperrors.ErrNotPrivileged
		}
		if target == nil {
			return apperrors.ErrMemberNotFound
		}
		if target.Role == models.RoleCreator {
			return apperrors.ErrCreatorImmutable
		}
		if target.Role == models.RoleAdmin && caller.Role != models.RoleCreator {
			return apperrors.ErrAdminNeedsCreator
		}
		return checkFrom(target.Status, from)
	}

	var target *models.GroupMembership
	apply := func(caller, t *models.GroupMembership) (bool, error) {
		target = t
		actorRoles := privilegedRoles
		if t.Role == models.RoleAdmin {
			actorRoles = []models.Role{models.RoleCreator}
		}
		return s.store.TransitionMember(ctx, store.MemberTransition{
			ChatID:      chatID,
			ActorID:     callerID,
			TargetID:    targetID,
			From:        from,
			To:          to,
			ActorRoles:  actorRoles,
			TargetRoles: []models.Role{t.Role},
			At:          s.clock.Now().UTC(),
		})
	}

	if err := s.guarded(ctx, chatID, callerID, targetID, check, apply); err != nil {
		return err
	}
	s.publishMembership(ctx, chatID, MembershipChange{ChatID: chatID, UserID: targetID, ActorID: callerID, Role: target.Role, Status: to})
	return nil
}

// LeaveGroup ends the caller's own membership. The creator cannot leave.
func (s *Service) LeaveGroup(ctx context.Context, chatID, userID string) error {
	check := func(caller, _ *models.GroupMembership) error {
		if caller == nil {
			return apperrors.ErrNotMember
		}
		if caller.Role == models.RoleCreator {
			return apperrors.ErrCreatorCannotLeave
		}
		return checkFrom(caller.Status, currentStatuses)
	}

	var role models.Role
	apply := func(caller, _ *models.GroupMembership) (bool, error) {
		role = caller.Role
		return s.store.TransitionMember(ctx, store.MemberTransition{
			ChatID:      chatID,
			ActorID:     userID,
			TargetID:    userID,
			From:        currentStatuses,
			To:          models.StatusLeft,
			TargetRoles: []models.Role{models.RoleMember, models.RoleAdmin},
			At:          s.clock.Now().UTC(),
		})
	}

	if err := s.guarded(ctx, chatID, userID, userID, check, apply); err != nil {
		return err
	}
	s.publishMembership(ctx, chatID, MembershipChange{ChatID: chatID, UserID: userID, ActorID: userID, Role: role, Status: models.StatusLeft})
	return nil
}

// SetRole promotes a member to admin or demotes an admin. Creator only.
func (s *Service) SetRole(ctx context.Context, chatID, callerID, targetID string, role models.Role) error {
	if role != models.RoleMember && role != models.RoleAdmin {
		return apperrors.InvalidArg("role must be member or admin")
	}
	check := func(caller, target *models.GroupMembership) error {
		if caller == nil || caller.Role != models.RoleCreator || caller.Status != models.StatusActive {
			return apperrors.ErrNotCreator
		}
		if target == nil {
			return apperrors.ErrMemberNotFound
		}
		if target.Role == models.RoleCreator {
			return apperrors.ErrCreatorImmutable
		}
		return checkFrom(target.Status, currentStatuses)
	}

	var status models.Status
	apply := func(_, target *models.GroupMembership) (bool, error) {
		status = target.Status
		return s.store.SetRole(ctx, chatID, callerID, targetID, role, s.clock.Now().UTC())
	}

	if err := s.guarded(ctx, chatID, callerID, targetID, check, apply); err != nil {
		return err
	}
	s.publishMembership(ctx, chatID, MembershipChange{ChatID: chatID, UserID: targetID, ActorID: callerID, Role: role, Status: status})
	return nil
}

// RequestJoin files a pending request. A user who already holds a current or
// pending membership gets it back unchanged; departed users must be re-added
// by an admin.
func (s *Service) RequestJoin(ctx context.Context, chatID, userID string) (*models.GroupMembership, error) {
	created, err := s.store.RequestJoin(ctx, chatID, userID, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMember(ctx, chatID, userID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, apperrors.ErrMemberNotFound
	}
	if m.Status.Departed() {
		return nil, apperrors.ErrTerminalStatus
	}
	if created {
		s.publishMembership(ctx, chatID, MembershipChange{ChatID: chatID, UserID: userID, ActorID: userID, Role: m.Role, Status: m.Status})
	}
	return m, nil
}

type memberCheck func(caller, target *models.GroupMembership) error

type memberWrite func(caller, target *models.GroupMembership) (bool, error)

// guarded runs check against the current rows, then the conditional write.
// A write that matched nothing means the rows moved underneath us; the check
// runs again on the fresh rows to name the reason.
func (s *Service) guarded(ctx context.Context, chatID, callerID, targetID string, check memberCheck, write memberWrite) error {
	caller, target, err := s.loadPair(ctx, chatID, callerID, targetID)
	if err != nil {
		return err
	}
	if err := check(caller, target); err != nil {
		return err
	}

	ok, err := write(caller, target)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	caller, target, err = s.loadPair(ctx, chatID, callerID, targetID)
	if err != nil {
		return err
	}
	if err := check(caller, target); err != nil {
		return err
	}
	return apperrors.ErrBadTransition
}

func (s *Service) loadPair(ctx context.Context, chatID, callerID, targetID string) (*models.GroupMembership, *models.GroupMembership, error) {
	if _, err := s.store.GetGroup(ctx, chatID); err != nil {
		return nil, nil, err
	}
	caller, err := s.store.GetMember(ctx, chatID, callerID)
	if err != nil {
		return nil, nil, err
	}
	if targetID == callerID {
		return caller, caller, nil
	}
	target, err := s.store.GetMember(ctx, chatID, targetID)
	if err != nil {
		return nil, nil, err
	}
	return caller, target, nil
}

func checkFrom(status models.Status, from []models.Status) error {
	for _, st := range from {
		if st == status {
			return nil
		}
	}
	if status.Departed() {
		return apperrors.ErrTerminalStatus
	}
	return apperrors.ErrBadTransition
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func flag(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}
