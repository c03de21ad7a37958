package gacha

import "fmt"

// Store failure codes surfaced to clients as 500s.
const (
	CodeGachaLookupFailed   = "GACHA_LOOKUP_FAILED"
	CodeGuestLookupFailed   = "GUEST_LOOKUP_FAILED"
	CodeGuestMarkFailed     = "GUEST_MARK_FAILED"
	CodeBonusLookupFailed   = "BONUS_LOOKUP_FAILED"
	CodeBonusInsertFailed   = "BONUS_INSERT_FAILED"
	CodeBonusUpdateFailed   = "BONUS_UPDATE_FAILED"
	CodeCreditsLookupFailed = "CREDITS_LOOKUP_FAILED"
	CodeCreditsUpdateFailed = "CREDITS_UPDATE_FAILED"
)

type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func fail(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}
