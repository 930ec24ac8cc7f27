package services

import "errors"

var (
	ErrMissingParameters = errors.New("missing required parameters")
	ErrInvalidParameter  = errors.New("invalid parameter")
	ErrForbidden         = errors.New("permission denied")
	ErrReviewNotFound    = errors.New("review not found")
	ErrArticleNotFound   = errors.New("article not found")
	ErrUserNotFound      = errors.New("user not found")
	ErrNotReviewer       = errors.New("user does not hold the reviewer role")
	ErrAlreadyAssigned   = errors.New("reviewer already assigned to article")
	ErrRoundOutOfRange   = errors.New("review round out of range")
)
