// Package session decodes the Antigravity session blob stored by the IDE into
// the few fields the agent needs: identity and OAuth tokens.
package session

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// ErrDecode is returned for any malformed session blob.
var ErrDecode = errors.New("session: decode failure")

// Field numbers of the session message.
const (
	fieldAuth    protowire.Number = 6
	fieldContext protowire.Number = 19

	fieldAccessToken protowire.Number = 1
	fieldIDToken     protowire.Number = 3

	fieldPlanName protowire.Number = 3
	fieldEmail    protowire.Number = 7
)

// versionMarker prefixes blobs copied out of the IDE state database.
const versionMarker = 0x01

const unknown = "Unknown"

// Auth holds the OAuth pair. The id token doubles as the refresh credential.
type Auth struct {
	AccessToken string
	IDToken     string
}

// Context holds the account identity.
type Context struct {
	Email    string
	PlanName string
}

// Session is the decoded session blob.
type Session struct {
	Auth    *Auth
	Context *Context
}

// Email returns the account email or "Unknown".
func (s *Session) Email() string {
	if s.Context == nil || s.Context.Email == "" {
		return unknown
	}
	return s.Context.Email
}

// Plan returns the plan name or "Unknown".
func (s *Session) Plan() string {
	if s.Context == nil || s.Context.PlanName == "" {
		return unknown
	}
	return s.Context.PlanName
}

// HasAuth reports whether the session carries a refresh credential.
func (s *Session) HasAuth() bool {
	return s.Auth != nil && s.Auth.IDToken != ""
}

// Decode parses a base64 session blob.
func Decode(b64 string) (*Session, error) {
	b64 = strings.TrimSpace(b64)
	if b64 == "" {
		return nil, fmt.Errorf("%w: empty blob", ErrDecode)
	}

	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrDecode, err)
		}
	}

	if len(raw) > 0 && raw[0] == versionMarker {
		raw = raw[1:]
	}

	s := &Session{}
	err = walk(raw, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldAuth:
			auth, err := decodeAuth(val)
			if err != nil {
				return err
			}
			s.Auth = auth
		case fieldContext:
			ctx, err := decodeContext(val)
			if err != nil {
				return err
			}
			s.Context = ctx
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Auth == nil && s.Context == nil {
		return nil, fmt.Errorf("%w: no session fields", ErrDecode)
	}
	return s, nil
}

// Summary returns email and plan for a blob, "Unknown" when it cannot be decoded.
func Summary(b64 string) (email, plan string) {
	s, err := Decode(b64)
	if err != nil {
		return unknown, unknown
	}
	return s.Email(), s.Plan()
}

func decodeAuth(b []byte) (*Auth, error) {
	a := &Auth{}
	err := walk(b, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldAccessToken:
			a.AccessToken = string(val)
		case fieldIDToken:
			a.IDToken = string(val)
		}
		return nil
	})
	return a, err
}

func decodeContext(b []byte) (*Context, error) {
	c := &Context{}
	err := walk(b, func(num protowire.Number, val []byte) error {
		switch num {
		case fieldPlanName:
			c.PlanName = string(val)
		case fieldEmail:
			c.Email = string(val)
		}
		return nil
	})
	return c, err
}

// walk visits every length-delimited field of a message and skips the rest.
func walk(b []byte, fn func(num protowire.Number, val []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		if typ != protowire.BytesType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: field %d: %w", ErrDecode, num, protowire.ParseError(n))
			}
			b = b[n:]
			continue
		}

		val, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return fmt.Errorf("%w: field %d: %w", ErrDecode, num, protowire.ParseError(n))
		}
		b = b[n:]

		if err := fn(num, val); err != nil {
			return err
		}
	}
	return nil
}
