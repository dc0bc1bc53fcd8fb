package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roomhub/apiserver/internal/events"
	"github.com/roomhub/apiserver/internal/store"
	"github.com/roomhub/apiserver/types"
)

const (
	DetailOwnerNotFound     = "ROOM.OWNER_NOT_FOUND"
	DetailCodeExists        = "ROOM.CODE_IS_EXIST"
	DetailTitleExists       = "ROOM.TITLE_IS_EXISTS"
	DetailTitleRequired     = "ROOM.TITLE_REQUIRED"
	DetailCapacityInvalid   = "ROOM.CAPACITY_INVALID"
	DetailCapacityTooSmall  = "ROOM.CAPACITY_BELOW_MEMBERS"
	DetailRoomFull          = "ROOM.IS_FULL"
	DetailUserNotFound      = "USER.NOT_FOUND"
	DetailAlreadyRoomMember = "ROOM.ALREADY_MEMBER"

	codeLength   = 22
	codeAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
)

// RoomStore defines persistence operations for rooms and enrollments.
type RoomStore interface {
	FindByID(ctx context.Context, id string) (types.Room, error)
	LockByID(ctx context.Context, id string) (types.Room, error)
	FindByTitle(ctx context.Context, title string) (types.Room, error)
	FindByCode(ctx context.Context, code string) (types.Room, error)
	Insert(ctx context.Context, room types.Room) (types.Room, error)
	Update(ctx context.Context, room types.Room) (types.Room, error)
	Delete(ctx context.Context, id string) error
	ListEnrollments(ctx context.Context, roomID string) ([]types.Enrollment, error)
	ListMembers(ctx context.Context, roomID string) ([]types.Member, error)
	CountMembers(ctx context.Context, roomID string) (int, error)
	IsMember(ctx context.Context, roomID, userID string) (bool, error)
	HasRole(ctx context.Context, roomID, userID string, role types.Role) (bool, error)
	InsertEnrollment(ctx context.Context, e types.Enrollment) (types.Enrollment, error)
	DeleteEnrollment(ctx context.Context, e types.Enrollment) error
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// UserLookup resolves room owners and joiners.
type UserLookup interface {
	FindByID(ctx context.Context, id string) (types.User, error)
}

// Sanitizer strips markup from user supplied text.
type Sanitizer interface {
	Sanitize(s string) string
}

// RoomService encapsulates room use-cases.
type RoomService struct {
	base
	rooms     RoomStore
	users     UserLookup
	sanitizer Sanitizer
}

func NewRoomService(rooms RoomStore, users UserLookup, opts Options) *RoomService {
	return &RoomService{
		base:      newBase(opts, "room"),
		rooms:     rooms,
		users:     users,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Create inserts the room and its ADMIN enrollment in one transaction. A
// generated code that collides is rejected, not regenerated.
func (s *RoomService) Create(ctx context.Context, in types.CreateRoomInput) types.Result[types.RoomDTO] {
	return observe(s.base, "room.create", s.create(ctx, in))
}

func (s *RoomService) create(ctx context.Context, in types.CreateRoomInput) types.Result[types.RoomDTO] {
	code, err := generateCode(s.random)
	if err != nil {
		return types.Fault[types.RoomDTO](fmt.Errorf("generate room code: %w", err))
	}

	title := s.clean(in.Title)
	if title == "" {
		return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeIsRequired, "title", DetailTitleRequired))
	}
	capacity := types.DefaultRoomCapacity
	if in.Capacity != nil {
		capacity = *in.Capacity
	}
	if capacity < 1 {
		return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeIncorrectValue, "capacity", DetailCapacityInvalid))
	}

	var ownerExists, codeTaken, titleTaken bool
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		ownerExists, err = exists(s.users.FindByID(gctx, in.OwnerID))
		return err
	})
	g.Go(func() error {
		var err error
		codeTaken, err = exists(s.rooms.FindByCode(gctx, code))
		return err
	})
	g.Go(func() error {
		var err error
		titleTaken, err = exists(s.rooms.FindByTitle(gctx, title))
		return err
	})
	if err := g.Wait(); err != nil {
		return types.Fault[types.RoomDTO](fmt.Errorf("room create lookups: %w", err))
	}

	switch {
	case !ownerExists:
		return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeRelatedEntityNotFound, "ownerId", DetailOwnerNotFound))
	case codeTaken:
		return types.Invalid[types.RoomDTO](codeExists())
	case titleTaken:
		return types.Invalid[types.RoomDTO](titleExists())
	}

	var created types.Room
	err = s.rooms.WithinTx(ctx, func(ctx context.Context) error {
		now := s.clock()
		var err error
		created, err = s.rooms.Insert(ctx, types.Room{
			Title:       title,
			Code:        code,
			Capacity:    capacity,
			Description: s.cleanOptional(in.Description),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		if err != nil {
			return err
		}
		_, err = s.rooms.InsertEnrollment(ctx, types.Enrollment{
			UserID:    in.OwnerID,
			RoomID:    created.ID,
			Role:      types.RoleAdmin,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		switch {
		case isConflictOn(err, "title"):
			return types.Invalid[types.RoomDTO](titleExists())
		case isConflictOn(err, "code"):
			return types.Invalid[types.RoomDTO](codeExists())
		case errors.Is(err, store.ErrMissingReference):
			return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeRelatedEntityNotFound, "ownerId", DetailOwnerNotFound))
		}
		return types.Fault[types.RoomDTO](fmt.Errorf("insert room: %w", err))
	}

	result := s.findByID(ctx, created.ID)
	if result.IsNotFound {
		return types.Fault[types.RoomDTO](fmt.Errorf("reload room %s: %w", created.ID, store.ErrNotFound))
	}
	if result.Succeeded() {
		s.log.WithFields(logrus.Fields{"room_id": created.ID, "owner_id": in.OwnerID}).Info("room created")
		s.publish(ctx, events.RoomCreated, created.ID)
	}
	return result
}

// FindByID returns the room with its members.
func (s *RoomService) FindByID(ctx context.Context, id string) types.Result[types.RoomDTO] {
	return observe(s.base, "room.find", s.findByID(ctx, id))
}

func (s *RoomService) findByID(ctx context.Context, id string) types.Result[types.RoomDTO] {
	room, err := s.rooms.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[types.RoomDTO]()
		}
		return types.Fault[types.RoomDTO](fmt.Errorf("find room %s: %w", id, err))
	}
	members, err := s.rooms.ListMembers(ctx, id)
	if err != nil {
		return types.Fault[types.RoomDTO](fmt.Errorf("list members of %s: %w", id, err))
	}
	return types.OK(types.NewRoomDTO(room, members))
}

// Update replaces title, description and capacity.
func (s *RoomService) Update(ctx context.Context, id string, in types.UpdateRoomInput) types.Result[bool] {
	return observe(s.base, "room.update", s.update(ctx, id, in))
}

func (s *RoomService) update(ctx context.Context, id string, in types.UpdateRoomInput) types.Result[bool] {
	room, err := s.rooms.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[bool]()
		}
		return types.Fault[bool](fmt.Errorf("find room %s: %w", id, err))
	}

	title := s.clean(in.Title)
	if title == "" {
		return types.Invalid[bool](types.NewValidationError(types.CodeIsRequired, "title", DetailTitleRequired))
	}
	if title != room.Title {
		holder, err := s.rooms.FindByTitle(ctx, title)
		switch {
		case err == nil && holder.ID != room.ID:
			return types.Invalid[bool](titleExists())
		case err != nil && !errors.Is(err, store.ErrNotFound):
			return types.Fault[bool](fmt.Errorf("check title: %w", err))
		}
	}

	if in.Capacity < 1 {
		return types.Invalid[bool](types.NewValidationError(types.CodeIncorrectValue, "capacity", DetailCapacityInvalid))
	}

	room.Title = title
	room.Description = s.cleanOptional(in.Description)
	room.Capacity = in.Capacity
	room.UpdatedAt = s.clock()

	var tooSmall bool
	err = s.rooms.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.rooms.LockByID(ctx, id); err != nil {
			return err
		}
		members, err := s.rooms.CountMembers(ctx, id)
		if err != nil {
			return fmt.Errorf("count members of %s: %w", id, err)
		}
		if in.Capacity < members {
			tooSmall = true
			return nil
		}
		_, err = s.rooms.Update(ctx, room)
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.NotFound[bool]()
	case isConflictOn(err, "title"):
		return types.Invalid[bool](titleExists())
	case err != nil:
		return types.Fault[bool](fmt.Errorf("update room %s: %w", id, err))
	case tooSmall:
		return types.Invalid[bool](types.NewValidationError(types.CodeIncorrectValue, "capacity", DetailCapacityTooSmall))
	}

	s.publish(ctx, events.RoomUpdated, id)
	return types.OK(true)
}

// Delete removes the room's first enrollment, taken to be its admin, then the
// room itself. Remaining enrollments cascade.
func (s *RoomService) Delete(ctx context.Context, id string) types.Result[bool] {
	return observe(s.base, "room.delete", s.delete(ctx, id))
}

func (s *RoomService) delete(ctx context.Context, id string) types.Result[bool] {
	if _, err := s.rooms.FindByID(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[bool]()
		}
		return types.Fault[bool](fmt.Errorf("find room %s: %w", id, err))
	}

	err := s.rooms.WithinTx(ctx, func(ctx context.Context) error {
		enrollments, err := s.rooms.ListEnrollments(ctx, id)
		if err != nil {
			return err
		}
		if len(enrollments) > 0 {
			first := enrollments[0]
			err := s.rooms.DeleteEnrollment(ctx, types.Enrollment{UserID: first.UserID, RoomID: id, Role: types.RoleAdmin})
			if errors.Is(err, store.ErrNotFound) {
				s.log.WithFields(logrus.Fields{
					"room_id": id,
					"user_id": first.UserID,
					"role":    first.Role,
				}).Warn("first enrollment of room is not its admin")
			} else if err != nil {
				return err
			}
		}
		return s.rooms.Delete(ctx, id)
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[bool]()
		}
		return types.Fault[bool](fmt.Errorf("delete room %s: %w", id, err))
	}

	s.log.WithField("room_id", id).Info("room deleted")
	s.publish(ctx, events.RoomDeleted, id)
	return types.OK(true)
}

// Join enrolls the user as a MEMBER of the room holding code.
func (s *RoomService) Join(ctx context.Context, in types.JoinRoomInput) types.Result[types.RoomDTO] {
	return observe(s.base, "room.join", s.join(ctx, in))
}

func (s *RoomService) join(ctx context.Context, in types.JoinRoomInput) types.Result[types.RoomDTO] {
	room, err := s.rooms.FindByCode(ctx, strings.TrimSpace(in.Code))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[types.RoomDTO]()
		}
		return types.Fault[types.RoomDTO](fmt.Errorf("find room by code: %w", err))
	}

	found, err := exists(s.users.FindByID(ctx, in.UserID))
	if err != nil {
		return types.Fault[types.RoomDTO](fmt.Errorf("find account %s: %w", in.UserID, err))
	}
	if !found {
		return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeRelatedEntityNotFound, "userId", DetailUserNotFound))
	}

	var full, member bool
	err = s.rooms.WithinTx(ctx, func(ctx context.Context) error {
		// Concurrent joins queue on the room row, so each sees the others' enrollments.
		locked, err := s.rooms.LockByID(ctx, room.ID)
		if err != nil {
			return err
		}
		member, err = s.rooms.IsMember(ctx, room.ID, in.UserID)
		if err != nil || member {
			return err
		}
		count, err := s.rooms.CountMembers(ctx, room.ID)
		if err != nil {
			return err
		}
		if count >= locked.Capacity {
			full = true
			return nil
		}
		_, err = s.rooms.InsertEnrollment(ctx, types.Enrollment{
			UserID:    in.UserID,
			RoomID:    room.ID,
			Role:      types.RoleMember,
			CreatedAt: s.clock(),
		})
		return err
	})
	switch {
	case errors.Is(err, store.ErrNotFound):
		return types.NotFound[types.RoomDTO]()
	case errors.Is(err, store.ErrMissingReference):
		return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeRelatedEntityNotFound, "userId", DetailUserNotFound))
	case member || isConflictOn(err, "userId"):
		return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeValueExists, "userId", DetailAlreadyRoomMember))
	case err != nil:
		return types.Fault[types.RoomDTO](fmt.Errorf("join room %s: %w", room.ID, err))
	case full:
		return types.Invalid[types.RoomDTO](types.NewValidationError(types.CodeIncorrectValue, "capacity", DetailRoomFull))
	}

	s.publish(ctx, events.RoomJoined, room.ID)
	return s.findByID(ctx, room.ID)
}

// IsAdmin reports whether the user holds the ADMIN role in the room.
func (s *RoomService) IsAdmin(ctx context.Context, roomID, userID string) types.Result[bool] {
	return observe(s.base, "room.is_admin", s.isAdmin(ctx, roomID, userID))
}

func (s *RoomService) isAdmin(ctx context.Context, roomID, userID string) types.Result[bool] {
	if _, err := s.rooms.FindByID(ctx, roomID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.NotFound[bool]()
		}
		return types.Fault[bool](fmt.Errorf("find room %s: %w", roomID, err))
	}
	admin, err := s.rooms.HasRole(ctx, roomID, userID, types.RoleAdmin)
	if err != nil {
		return types.Fault[bool](fmt.Errorf("check role: %w", err))
	}
	return types.OK(admin)
}

func (s *RoomService) clean(text string) string {
	return strings.TrimSpace(s.sanitizer.Sanitize(text))
}

func (s *RoomService) cleanOptional(text *string) *string {
	if text == nil {
		return nil
	}
	cleaned := s.clean(*text)
	return &cleaned
}

// generateCode draws an opaque base36 join code from r.
func generateCode(r io.Reader) (string, error) {
	const maxByte = 256 - 256%len(codeAlphabet)

	code := make([]byte, 0, codeLength)
	buf := make([]byte, codeLength)
	for len(code) < codeLength {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(code) == codeLength {
				break
			}
		}
	}
	return string(code), nil
}

// exists turns a lookup into a presence flag. Only ErrNotFound means absent.
func exists[T any](_ T, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func codeExists() types.ValidationError {
	return types.NewValidationError(types.CodeValueExists, "code", DetailCodeExists)
}

func titleExists() types.ValidationError {
	return types.NewValidationError(types.CodeValueExists, "title", DetailTitleExists)
}
