package portfolio

// Identity yields the stable user identifier that namespaces all persisted
// keys. Absence of an identifier means "logged out".
type Identity interface {
	UserID() (string, bool)
}

// StaticIdentity is an Identity fixed at construction time. The empty
// string behaves as logged out.
type StaticIdentity string

// UserID implements Identity.
func (s StaticIdentity) UserID() (string, bool) {
	return string(s), s != ""
}
