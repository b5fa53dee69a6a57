package mail

import (
	"bytes"
	"fmt"
	"html/template"
	"net/url"
	"strings"
)

const layout = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
</head>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <h1 style="color: #16a34a;">Farm Market</h1>
  <h2>{{.Title}}</h2>
  <p>Hello {{.Name}},</p>
  <p>{{.Body}}</p>
  <p style="text-align: center; margin: 30px 0;">
    <a href="{{.ActionURL}}" style="background: #22c55e; color: #fff; padding: 12px 24px; border-radius: 6px; text-decoration: none;">{{.ActionText}}</a>
  </p>
  <p style="font-size: 12px; color: #6b7280;">{{.Footer}}</p>
</body>
</html>`

var layoutTmpl = template.Must(template.New("layout").Parse(layout))

type layoutData struct {
	Title      string
	Name       string
	Body       string
	ActionURL  string
	ActionText string
	Footer     string
}

// Renderer builds the transactional emails. Links point at the frontend.
type Renderer struct {
	frontendURL string
}

func NewRenderer(frontendURL string) *Renderer {
	return &Renderer{frontendURL: strings.TrimSuffix(frontendURL, "/")}
}

func (r *Renderer) Verification(to, name, token string) (Message, error) {
	return r.render(to, "Verify your email address", layoutData{
		Title:      "Verify your email address",
		Name:       name,
		Body:       "Thanks for joining Farm Market. Confirm your email address to start buying and selling fresh produce.",
		ActionURL:  r.link("/verify-email", token),
		ActionText: "Verify email",
		Footer:     "This link expires in 24 hours. If you did not create an account you can ignore this email.",
	})
}

func (r *Renderer) PasswordReset(to, name, token string) (Message, error) {
	return r.render(to, "Reset your password", layoutData{
		Title:      "Reset your password",
		Name:       name,
		Body:       "We received a request to reset the password for your Farm Market account.",
		ActionURL:  r.link("/reset-password", token),
		ActionText: "Reset password",
		Footer:     "This link expires in 1 hour. If you did not request a reset your password stays unchanged.",
	})
}

func (r *Renderer) link(path, token string) string {
	return r.frontendURL + path + "?token=" + url.QueryEscape(token)
}

func (r *Renderer) render(to, subject string, data layoutData) (Message, error) {
	var buf bytes.Buffer
	if err := layoutTmpl.Execute(&buf, data); err != nil {
		return Message{}, fmt.Errorf("render %q: %w", subject, err)
	}
	return Message{To: to, Subject: subject, HTML: buf.String()}, nil
}
