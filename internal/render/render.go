// Package render writes a generated client secret in one of the supported
// output formats: a human-readable text banner, a shell-friendly env line,
// or machine-readable JSON.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dskow/siwa-secret/internal/secret"
)

// ExpiryLayout is the timestamp layout used in the text banner.
const ExpiryLayout = "2006-01-02 15:04:05"

// Write renders sec in the given format. envName is only used by the "env"
// format. The format string is validated by config, so an unknown value here
// is a programming error.
func Write(w io.Writer, format, envName string, sec *secret.Secret) error {
	switch format {
	case "text":
		return Text(w, sec)
	case "env":
		return Env(w, envName, sec)
	case "json":
		return JSON(w, sec)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

// Text writes the banner layout: heading, token, and a formatted expiry with
// a regeneration reminder. Nothing is written before the secret has been
// signed, so a failed run produces no partial banner.
func Text(w io.Writer, sec *secret.Secret) error {
	rule := strings.Repeat("=", 80)
	_, err := fmt.Fprintf(w, `%s
Sign in with Apple - client secret
%s

Copy the token below and paste it into your identity provider configuration:

%s

%s
Token expires: %s
(Regenerate this token before it expires.)
%s
`,
		rule, rule,
		sec.Token,
		rule,
		sec.ExpiresAt.Local().Format(ExpiryLayout),
		rule,
	)
	return err
}

// Env writes a single NAME=token line suitable for piping into an env file.
func Env(w io.Writer, name string, sec *secret.Secret) error {
	_, err := fmt.Fprintf(w, "%s=%s\n", name, sec.Token)
	return err
}

// jsonSecret is the stable JSON output shape. Field names form a public
// contract; do not rename.
type jsonSecret struct {
	ClientSecret string `json:"client_secret"`
	IssuedAt     int64  `json:"issued_at"`
	ExpiresAt    int64  `json:"expires_at"`
	Expires      string `json:"expires"`
}

// JSON writes the secret with Unix timestamps and an RFC3339 expiry.
func JSON(w io.Writer, sec *secret.Secret) error {
	enc := json.NewEncoder(w)
	return enc.Encode(jsonSecret{
		ClientSecret: sec.Token,
		IssuedAt:     sec.IssuedAt.Unix(),
		ExpiresAt:    sec.ExpiresAt.Unix(),
		Expires:      sec.ExpiresAt.UTC().Format(time.RFC3339),
	})
}
