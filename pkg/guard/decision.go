package guard

// Outcome is the result of evaluating a route for the current state.
type Outcome string

const (
	// Loading means the session is not known yet. Nothing may redirect.
	Loading              Outcome = "loading"
	RedirectLogin        Outcome = "redirect_login"
	RedirectRoleHome     Outcome = "redirect_role_home"
	RedirectUnauthorized Outcome = "redirect_unauthorized"
	Render               Outcome = "render"
)

func (o Outcome) String() string { return string(o) }

// Decision is what the UI layer acts on. Target is set for redirects. From
// is the path that was evaluated and is carried into the login redirect.
// Reason is safe to show to the user: it names required roles or
// permissions, never tenants.
type Decision struct {
	Outcome Outcome
	Target  string
	From    string
	Reason  string
	Err     error
}

// Allowed reports whether the route may be rendered.
func (d Decision) Allowed() bool { return d.Outcome == Render }

// IsRedirect reports whether the decision sends the user elsewhere.
func (d Decision) IsRedirect() bool {
	switch d.Outcome {
	case RedirectLogin, RedirectRoleHome, RedirectUnauthorized:
		return true
	}
	return false
}

// IsDenial reports whether the decision is an authorization failure that
// belongs in the security audit. Unauthenticated visits are not audited.
func (d Decision) IsDenial() bool {
	return d.Err != nil && d.Outcome != RedirectLogin
}
