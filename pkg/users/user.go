package users

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// UnknownName is the name carried by the sentinel reply for ids that do not
// resolve to a user.
const UnknownName = "Unknown"

// User is a stored account. PasswordHash never leaves the auth service.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	Email        string
	FirstName    string
	LastName     string
	Avatar       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Profile is the public projection of a user.
type Profile struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Avatar    string    `json:"avatar"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Sanitize strips the secret fields off u.
func Sanitize(u *User) Profile {
	return Profile{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Avatar:    u.Avatar,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

// Unknown stands in for a user that does not exist.
type Unknown struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// NewUnknown returns the sentinel for id.
func NewUnknown(id int64) Unknown {
	return Unknown{ID: id, Name: UnknownName}
}

// Reply is the answer to a getUser call: either a profile or the Unknown
// sentinel. Exactly one of the two is set.
type Reply struct {
	Profile *Profile
	Unknown *Unknown
}

// ProfileReply wraps p.
func ProfileReply(p Profile) Reply {
	return Reply{Profile: &p}
}

// UnknownReply returns the sentinel reply for id.
func UnknownReply(id int64) Reply {
	u := NewUnknown(id)
	return Reply{Unknown: &u}
}

// ID returns the user id the reply is about.
func (r Reply) ID() int64 {
	if r.Profile != nil {
		return r.Profile.ID
	}
	if r.Unknown != nil {
		return r.Unknown.ID
	}
	return 0
}

// IsUnknown reports whether the reply is the sentinel.
func (r Reply) IsUnknown() bool {
	return r.Profile == nil
}

// MarshalJSON encodes the profile or the sentinel, never both.
func (r Reply) MarshalJSON() ([]byte, error) {
	if r.Profile != nil {
		return json.Marshal(r.Profile)
	}
	if r.Unknown != nil {
		return json.Marshal(r.Unknown)
	}
	return nil, errors.New("users: empty reply")
}

// UnmarshalJSON tells a profile from the sentinel by the username field.
func (r *Reply) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	if _, ok := fields["username"]; ok {
		var p Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return err
		}
		*r = Reply{Profile: &p}
		return nil
	}

	if _, ok := fields["name"]; ok {
		var u Unknown
		if err := json.Unmarshal(data, &u); err != nil {
			return err
		}
		*r = Reply{Unknown: &u}
		return nil
	}

	return errors.Errorf("users: reply is neither a profile nor a sentinel: %s", data)
}
