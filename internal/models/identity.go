package models

// Identity is either an authenticated user or a hashed guest token, never both.
type Identity struct {
	UserID         string
	GuestTokenHash string
}

func (i Identity) IsGuest() bool {
	return i.UserID == ""
}

// Owner returns the user_id / guest_token_hash column pair for persisted rows.
func (i Identity) Owner() (userID, guestHash *string) {
	if i.UserID != "" {
		return StringPtr(i.UserID), nil
	}
	return nil, StringPtr(i.GuestTokenHash)
}
