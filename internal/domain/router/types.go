// internal/domain/router/types.go
package router

import "strings"

// Secret is a PPP secret as reported by the router.
type Secret struct {
	ID            string `json:".id"`
	Name          string `json:"name"`
	Password      string `json:"-"`
	Profile       string `json:"profile"`
	Service       string `json:"service"`
	LocalAddress  string `json:"local-address,omitempty"`
	RemoteAddress string `json:"remote-address,omitempty"`
	Comment       string `json:"comment,omitempty"`
	Disabled      bool   `json:"disabled"`
}

// NewSecret is the payload for /ppp/secret/add.
type NewSecret struct {
	Name          string
	Password      string
	Profile       string
	Service       string
	LocalAddress  string
	RemoteAddress string
	Comment       string
}

// SecretUpdate is a partial update. Nil fields are not sent.
type SecretUpdate struct {
	Password      *string
	Profile       *string
	LocalAddress  *string
	RemoteAddress *string
	Comment       *string
	Disabled      *bool
}

func (u SecretUpdate) IsEmpty() bool {
	return u.Password == nil && u.Profile == nil && u.LocalAddress == nil &&
		u.RemoteAddress == nil && u.Comment == nil && u.Disabled == nil
}

// Fields lists the names of the attributes present in the update, for logging.
func (u SecretUpdate) Fields() []string {
	var fields []string
	if u.Password != nil {
		fields = append(fields, "password")
	}
	if u.Profile != nil {
		fields = append(fields, "profile")
	}
	if u.LocalAddress != nil {
		fields = append(fields, "local-address")
	}
	if u.RemoteAddress != nil {
		fields = append(fields, "remote-address")
	}
	if u.Comment != nil {
		fields = append(fields, "comment")
	}
	if u.Disabled != nil {
		fields = append(fields, "disabled")
	}
	return fields
}

// Profile is a PPP profile.
type Profile struct {
	ID            string `json:".id"`
	Name          string `json:"name"`
	RateLimit     string `json:"rate-limit,omitempty"`
	LocalAddress  string `json:"local-address,omitempty"`
	RemoteAddress string `json:"remote-address,omitempty"`
	Comment       string `json:"comment,omitempty"`
}

// Pool is an IP address pool.
type Pool struct {
	ID     string   `json:".id"`
	Name   string   `json:"name"`
	Ranges []string `json:"ranges"`
}

func (p Pool) RangesValue() string {
	return strings.Join(p.Ranges, ",")
}

// Ptr is a helper for building SecretUpdate literals.
func Ptr[T any](v T) *T {
	return &v
}
