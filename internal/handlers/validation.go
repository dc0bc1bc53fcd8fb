package handlers

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/roomhub/apiserver/internal/auth"
	"github.com/roomhub/apiserver/types"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 32

	detailEmailRequired      = "USER.EMAIL_REQUIRED"
	detailEmailInvalidType   = "USER.EMAIL_INVALID_TYPE"
	detailPasswordRequired   = "USER.PASSWORD_REQUIRED"
	detailPasswordLength     = "USER.PASSWORD_INVALID_LENGTH"
	detailTitleRequired      = "ROOM.TITLE_REQUIRED"
	detailCapacityRequired   = "ROOM.CAPACITY_REQUIRED"
	detailCapacityIncorrect  = "ROOM.CAPACITY_INCORRECT_VALUE"
	detailCodeRequired       = "ROOM.CODE_REQUIRED"
	detailInvalidCredentials = "USER.INVALID_CREDENTIALS"
	detailUserNotFound       = "USER.NOT_FOUND"
	detailRoomNotFound       = "ROOM.ROOM.NOT_FOUND"
	detailUnauthenticated    = "AUTH.UNAUTHENTICATED"
	detailForbidden          = "AUTH.FORBIDDEN"
	detailTooManyRequests    = "AUTH.TOO_MANY_REQUESTS"
	sourceCredentials        = "email or password"
	sourceAuthorization      = "Authorization"
	sourceRoomID             = "roomId"
	sourceUserID             = "id"
)

type validator struct {
	errs []types.ValidationError
}

func (v *validator) add(code types.ErrorCode, source, detail string) {
	v.errs = append(v.errs, types.NewValidationError(code, source, detail))
}

func (v *validator) email(value string, required bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		if required {
			v.add(types.CodeIsRequired, "email", detailEmailRequired)
		}
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.add(types.CodeInvalidType, "email", detailEmailInvalidType)
	}
}

func (v *validator) password(value string, required bool) {
	if value == "" {
		if required {
			v.add(types.CodeIsRequired, "password", detailPasswordRequired)
		}
		return
	}
	n := utf8.RuneCountInString(value)
	if n < minPasswordLength || n > maxPasswordLength || len(value) > auth.MaxPasswordBytes {
		v.add(types.CodeInvalidLength, "password", detailPasswordLength)
	}
}

func (v *validator) title(value string) {
	if strings.TrimSpace(value) == "" {
		v.add(types.CodeIsRequired, "title", detailTitleRequired)
	}
}

func (v *validator) capacity(value *int, required bool) {
	if value == nil {
		if required {
			v.add(types.CodeIsRequired, "capacity", detailCapacityRequired)
		}
		return
	}
	if *value < 1 {
		v.add(types.CodeIncorrectValue, "capacity", detailCapacityIncorrect)
	}
}

func validateRegister(in types.RegisterInput) []types.ValidationError {
	var v validator
	v.email(in.Email, true)
	v.password(in.Password, true)
	return v.errs
}

func validateLogin(in types.LoginInput) []types.ValidationError {
	var v validator
	v.email(in.Email, true)
	if in.Password == "" {
		v.add(types.CodeIsRequired, "password", detailPasswordRequired)
	}
	return v.errs
}

func validateUpdateAccount(in types.UpdateAccountInput) []types.ValidationError {
	var v validator
	if in.Email != nil {
		v.email(*in.Email, true)
	}
	if in.Password != nil {
		v.password(*in.Password, true)
	}
	return v.errs
}

func validateCreateRoom(in types.CreateRoomInput) []types.ValidationError {
	var v validator
	v.title(in.Title)
	v.capacity(in.Capacity, false)
	return v.errs
}

func validateUpdateRoom(in updateRoomRequest) []types.ValidationError {
	var v validator
	v.title(in.Title)
	v.capacity(in.Capacity, true)
	return v.errs
}

func validateJoinRoom(in joinRoomRequest) []types.ValidationError {
	var v validator
	if strings.TrimSpace(in.Code) == "" {
		v.add(types.CodeIsRequired, "code", detailCodeRequired)
	}
	return v.errs
}
