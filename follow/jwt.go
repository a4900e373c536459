package follow

import (
	"fmt"
	"net/http"

	gojwt "github.com/golang-jwt/jwt/v5"
)

const SessionCookieName = "session"

// credentials attached to every api call and to the realtime handshake.
// The session is opaque to the client. `ByJwt` is optional and is only
// parsed unverified to tag logs before the current user is known.
type SessionAuth struct {
	SessionCookie string
	ByJwt         string
}

func (self *SessionAuth) Header() http.Header {
	header := http.Header{}
	if self == nil {
		return header
	}
	if self.SessionCookie != "" {
		cookie := &http.Cookie{
			Name:  SessionCookieName,
			Value: self.SessionCookie,
		}
		header.Add("Cookie", cookie.String())
	}
	if self.ByJwt != "" {
		header.Add("Authorization", fmt.Sprintf("Bearer %s", self.ByJwt))
	}
	return header
}

func (self *SessionAuth) apply(req *http.Request) {
	for key, values := range self.Header() {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
}

// log tag for the session
func (self *SessionAuth) Tag() string {
	if self != nil && self.ByJwt != "" {
		if byJwt, err := ParseByJwtUnverified(self.ByJwt); err == nil && byJwt.Email != "" {
			return byJwt.Email
		}
	}
	return "session"
}

type ByJwt struct {
	Email    string
	Nickname string
}

func ParseByJwtUnverified(jwt string) (*ByJwt, error) {
	parser := gojwt.NewParser()
	token, _, err := parser.ParseUnverified(jwt, gojwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims := token.Claims.(gojwt.MapClaims)

	byJwt := &ByJwt{}

	if email, ok := claims["email"].(string); ok {
		byJwt.Email = email
	}
	if nickname, ok := claims["nickname"].(string); ok {
		byJwt.Nickname = nickname
	}

	return byJwt, nil
}
