package domain

import "errors"

var (
	ErrInvalidEmail  = errors.New("invalid email address")
	ErrUserNotFound  = errors.New("user not found")
	ErrInvalidUserID = errors.New("invalid user ID")
	ErrNotSignedIn   = errors.New("Not signed in")

	ErrURLRequired           = errors.New("URL is required")
	ErrInvalidURL            = errors.New("please enter a valid http(s) URL")
	ErrInvalidSubscriptionID = errors.New("invalid subscription ID")
	ErrSubscriptionNotFound  = errors.New("subscription not found")
	ErrAlreadySubscribed     = errors.New("This URL is already in your list")

	ErrInvalidPostID = errors.New("invalid post ID")

	ErrDuplicateEntry = errors.New("duplicate entry")
)

var ErrTooManyAttempts = errors.New("too many attempts, please try again later")
