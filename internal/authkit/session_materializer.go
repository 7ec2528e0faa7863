package authkit

// SessionPolicy selects how terminal refresh errors affect materialization.
type SessionPolicy int

const (
	// SessionPolicyFailClosed hides sessions whose provider refresh failed.
	SessionPolicyFailClosed SessionPolicy = iota
	// SessionPolicyBackendTokenAuthoritative exposes any session holding a backend token.
	SessionPolicyBackendTokenAuthoritative
)

// ParseSessionPolicy maps a config value to a SessionPolicy.
func ParseSessionPolicy(value string) (SessionPolicy, bool) {
	switch value {
	case "", "fail_closed":
		return SessionPolicyFailClosed, true
	case "backend_token_authoritative":
		return SessionPolicyBackendTokenAuthoritative, true
	default:
		return SessionPolicyFailClosed, false
	}
}

// ExposedUser is the caller-visible identity. Nil fields encode as JSON null.
type ExposedUser struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Image *string `json:"image"`
}

// ExposedSession is what a caller is allowed to see.
type ExposedSession struct {
	User               ExposedUser `json:"user"`
	AccessToken        *string     `json:"accessToken"`
	AccessTokenBackend *string     `json:"accessTokenBackend"`
	IDToken            *string     `json:"idToken"`
	Error              *string     `json:"error"`
}

// Anonymous reports whether the session carries no identity.
func (session ExposedSession) Anonymous() bool {
	return session.AccessTokenBackend == nil
}

// AnonymousSession is the fully anonymized session; callers only see absent fields.
func AnonymousSession() ExposedSession {
	return ExposedSession{}
}

// Materialize decides the exposed session for a token. It performs no I/O.
// SessionPolicyBackendTokenAuthoritative is the strict two-state rule: a backend
// token alone yields the full session, whatever error marker the token carries.
// SessionPolicyFailClosed additionally anonymizes tokens marked with
// RefreshAccessTokenError.
func Materialize(token SessionToken, policy SessionPolicy) ExposedSession {
	if token.AccessTokenFromBackend == "" {
		return AnonymousSession()
	}
	if policy == SessionPolicyFailClosed && token.Error == RefreshAccessTokenError {
		return AnonymousSession()
	}
	return ExposedSession{
		User: ExposedUser{
			Name:  optionalString(token.User.Name),
			Email: optionalString(token.User.Email),
			Image: optionalString(token.User.Image),
		},
		AccessToken:        optionalString(token.AccessToken),
		AccessTokenBackend: optionalString(token.AccessTokenFromBackend),
		IDToken:            optionalString(token.IDToken),
	}
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
