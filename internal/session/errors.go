package session

import "errors"

var (
	ErrNotAvailable         = errors.New("test is not available")
	ErrNotFound             = errors.New("not found")
	ErrInvalidSubject       = errors.New("selected subject is not part of the chosen class")
	ErrForbidden            = errors.New("forbidden")
	ErrSubjectNotInTest     = errors.New("test does not contain the selected subject")
	ErrNoQuestionsAvailable = errors.New("no questions available for the selected subject")
	ErrDeadlineExceeded     = errors.New("submission time exceeded the allowed duration")
	ErrAlreadySubmitted     = errors.New("attempt already submitted")
	ErrNotSubmitted         = errors.New("attempt has not been submitted")
)
