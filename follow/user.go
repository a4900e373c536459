package follow

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var userValidate = validator.New()

// a user as seen by this client. `Followers` is the last server value;
// once the store has an entry for `Email` the store is authoritative.
type User struct {
	FirstName string
	LastName  string
	Email     string
	Avatar    string
	Dob       string
	Nickname  string
	AboutMe   string
	Followers int
	Following int
}

// the public profile key, `first-last`
func (self *User) Slug() string {
	return fmt.Sprintf("%s-%s", self.FirstName, self.LastName)
}

// `GET /api/user`
type SessionUserResult struct {
	First     string  `json:"first"`
	Avatar    string  `json:"avatar"`
	Email     string  `json:"email" validate:"required,email"`
	Last      string  `json:"last"`
	Dob       string  `json:"dob"`
	// present for a logged in user, possibly empty
	Nickname  *string `json:"nickname" validate:"required"`
	About     string  `json:"about"`
	Followers int     `json:"followers" validate:"gte=0"`
	Following int     `json:"following" validate:"gte=0"`
}

// a session without a nickname field or an email is not logged in
func (self *SessionUserResult) Validate() error {
	if err := userValidate.Struct(self); err != nil {
		return fmt.Errorf("%w: %s", ErrSessionInvalid, err)
	}
	return nil
}

func (self *SessionUserResult) User() *User {
	var nickname string
	if self.Nickname != nil {
		nickname = *self.Nickname
	}
	return &User{
		FirstName: self.First,
		LastName:  self.Last,
		Email:     self.Email,
		Avatar:    self.Avatar,
		Dob:       self.Dob,
		Nickname:  nickname,
		AboutMe:   self.About,
		Followers: self.Followers,
		Following: self.Following,
	}
}

// `POST /api/users`
type DirectoryUser struct {
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Avatar    string `json:"avatar"`
	Email     string `json:"email"`
	AboutMe   string `json:"aboutme"`
	Dob       string `json:"dob,omitempty"`
	Nickname  string `json:"nickname,omitempty"`
	Followers int    `json:"followers,omitempty"`
	Following int    `json:"following,omitempty"`
}

func (self *DirectoryUser) User() *User {
	return &User{
		FirstName: self.FirstName,
		LastName:  self.LastName,
		Email:     self.Email,
		Avatar:    self.Avatar,
		Dob:       self.Dob,
		Nickname:  self.Nickname,
		AboutMe:   self.AboutMe,
		Followers: self.Followers,
		Following: self.Following,
	}
}
