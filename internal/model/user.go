package model

import "strings"

// GuestPrefix marks tenant ids created for anonymous guest sessions.
const GuestPrefix = "guest_"

// User is the identity descriptor handed over by the identity provider.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Name        string `json:"name"`
	HouseholdID string `json:"householdId,omitempty"`
}

// IsGuest reports whether the user is an anonymous guest identity.
func (u *User) IsGuest() bool {
	return u == nil || u.ID == "" || strings.HasPrefix(u.ID, GuestPrefix)
}

// TenantID returns the household the user belongs to, defaulting to the user id.
func (u *User) TenantID() string {
	if u == nil {
		return ""
	}
	if u.HouseholdID != "" {
		return u.HouseholdID
	}
	return u.ID
}
