package credentials

// RoleType identifies the authorization level of a panel principal.
type RoleType string

const (
	RoleAdmin    RoleType = "admin"
	RoleReseller RoleType = "reseller"
	RoleUser     RoleType = "user"
)

// roleRank orders roles for capability checks. Higher ranks subsume lower
// ones: an admin can do everything a reseller can, a reseller everything a
// user can.
var roleRank = map[RoleType]int{
	RoleUser:     1,
	RoleReseller: 2,
	RoleAdmin:    3,
}

// Principal is the authenticated panel account. It is immutable once
// constructed and is always replaced wholesale, never patched field by
// field (last writer wins, no merge).
type Principal struct {
	ID                  string   `json:"id"`
	DisplayName         string   `json:"displayName"`
	Role                RoleType `json:"role"`
	SecondFactorEnabled bool     `json:"secondFactorEnabled"`
}

// SecondFactorChallenge tracks an in-progress second-factor verification.
// The temporary credential it carries is only good for the 2FA verify
// exchange and is never persisted.
type SecondFactorChallenge struct {
	TempToken string
	Required  bool
}

// Session is a point-in-time snapshot of the credential state. Snapshots
// are values; mutating one has no effect on the store.
//
// Invariant: AccessToken != "" implies Principal != nil. The converse may
// briefly fail while a second-factor verification is pending.
type Session struct {
	Principal    *Principal
	AccessToken  string
	RefreshToken string
	Pending      *SecondFactorChallenge
}

// IsAuthenticated reports whether the session holds both an access
// credential and a principal.
func (s Session) IsAuthenticated() bool {
	return s.AccessToken != "" && s.Principal != nil
}

// Role returns the principal's role, or the empty role for an
// unauthenticated session.
func (s Session) Role() RoleType {
	if s.Principal == nil {
		return ""
	}
	return s.Principal.Role
}

func (s Session) IsAdmin() bool {
	return s.Role() == RoleAdmin
}

func (s Session) IsReseller() bool {
	return s.Role() == RoleReseller
}

func (s Session) IsUser() bool {
	return s.Role() == RoleUser
}

// Can reports whether the session's role is at least the given role.
func (s Session) Can(required RoleType) bool {
	if !s.IsAuthenticated() {
		return false
	}
	return roleRank[s.Role()] >= roleRank[required]
}

// clone returns a deep copy so callers can never reach into the store's
// own fields.
func (s Session) clone() Session {
	out := Session{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
	}
	if s.Principal != nil {
		p := *s.Principal
		out.Principal = &p
	}
	if s.Pending != nil {
		c := *s.Pending
		out.Pending = &c
	}
	return out
}
