package models

// Account is one stored Antigravity login. State is the opaque base64
// session blob the quota client decodes.
type Account struct {
	Email    string `json:"email"`
	Plan     string `json:"plan"`
	FileName string `json:"fileName"`
	State    string `json:"-"`
}

// HasState reports whether the account carries a credential blob.
func (a *Account) HasState() bool {
	return a.State != ""
}

// UnknownEmail marks a blob whose identity could not be decoded.
const UnknownEmail = "Unknown"

// Key identifies the account across syncs. Accounts without a decodable
// email fall back to their file name so they stay distinct.
func (a *Account) Key() string {
	if a.Email == "" || a.Email == UnknownEmail {
		return a.FileName
	}
	return a.Email
}
