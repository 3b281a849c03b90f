package models

import "time"

// User is the account record. PassHash and RefreshToken are server-side only
// and must never be serialized into a response payload.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	Avatar       string    `json:"avatar"`
	CoverImage   string    `json:"coverImage,omitempty"`
	PassHash     []byte    `json:"-"`
	RefreshToken string    `json:"-"`
	WatchHistory []string  `json:"watchHistory,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Public returns a copy safe for response payloads.
func (u User) Public() User {
	u.PassHash = nil
	u.RefreshToken = ""
	return u
}
