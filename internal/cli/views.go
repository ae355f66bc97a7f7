package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/bizpos/tenantguard/pkg/identity"
	"github.com/bizpos/tenantguard/pkg/rbac"
	"github.com/bizpos/tenantguard/pkg/tenant"
)

func loginView(from, message string) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString(`<main id="login"><h1>Sign in</h1>`)
		if message != "" {
			b.WriteString(`<p role="alert">` + templ.EscapeString(message) + `</p>`)
		}
		b.WriteString(`<form method="post">`)
		b.WriteString(`<input type="hidden" name="from" value="` + templ.EscapeString(from) + `">`)
		b.WriteString(`<label>Email <input type="email" name="email" required></label>`)
		b.WriteString(`<label>Password <input type="password" name="password" required></label>`)
		b.WriteString(`<button type="submit">Sign in</button></form></main>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}

type pageParams struct {
	Path   string
	User   *identity.User
	Tenant *tenant.Tenant
	// Available is filled for dev users only.
	Available []tenant.Tenant
	// Count is the row count behind the page, -1 when unknown.
	Count int
	Nav   []navLink
}

type navLink struct {
	Module rbac.Module
	Path   string
}

func pageView(p pageParams) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		var b strings.Builder
		if len(p.Nav) > 0 {
			b.WriteString(`<nav><ul>`)
			for _, l := range p.Nav {
				fmt.Fprintf(&b, `<li><a href="%s">%s</a></li>`, templ.EscapeString(l.Path), templ.EscapeString(string(l.Module)))
			}
			b.WriteString(`</ul></nav>`)
		}
		b.WriteString(`<main id="page"><h1>` + templ.EscapeString(p.Path) + `</h1>`)
		if p.User != nil {
			fmt.Fprintf(&b, `<p>Signed in as %s (%s)</p>`, templ.EscapeString(p.User.Email), templ.EscapeString(p.User.Role.String()))
		}
		if p.Tenant != nil {
			b.WriteString(`<p>Company: ` + templ.EscapeString(p.Tenant.Name) + `</p>`)
		}
		if p.Count >= 0 {
			fmt.Fprintf(&b, `<p>Records: %d</p>`, p.Count)
		}
		if len(p.Available) > 0 {
			b.WriteString(`<form method="post" action="/tenant"><select name="tenant_id">`)
			for _, t := range p.Available {
				fmt.Fprintf(&b, `<option value="%s">%s</option>`, t.ID, templ.EscapeString(t.Name))
			}
			b.WriteString(`</select><button type="submit">Switch company</button></form>`)
		}
		b.WriteString(`<form method="post" action="/session/renew"><button type="submit">Stay signed in</button></form>`)
		b.WriteString(`<form method="post" action="/logout"><button type="submit">Sign out</button></form></main>`)
		_, err := io.WriteString(w, b.String())
		return err
	})
}
