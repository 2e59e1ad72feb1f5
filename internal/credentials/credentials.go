// Package credentials parses network credentials submitted through the setup
// portal's form.
package credentials

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Platform limits of the station configuration.
const (
	MaxSSIDLen       = 32
	MaxPassphraseLen = 64
)

// Form field names.
const (
	FieldSSID     = "ssid"
	FieldPassword = "password"
)

// ErrMalformedRequest is returned for any body that does not carry a usable
// credential pair.
var ErrMalformedRequest = errors.New("malformed request")

// Credentials identify the network to join. An empty passphrase means an
// open network.
type Credentials struct {
	SSID       string
	Passphrase string
}

// String redacts the passphrase.
func (c Credentials) String() string {
	if c.Passphrase == "" {
		return fmt.Sprintf("%q (open)", c.SSID)
	}
	return fmt.Sprintf("%q (passphrase redacted)", c.SSID)
}

// LogValue keeps the passphrase out of structured logs.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("ssid", c.SSID),
		slog.Bool("open", c.Passphrase == ""),
	)
}

// Parse decodes an application/x-www-form-urlencoded body.
//
// Pairs are separated by '&' and split on the first '='. '+' decodes to a
// space and %XX to the byte XX; other bytes pass through. Unknown keys are
// ignored and a repeated key keeps its last value. A missing or empty ssid,
// a truncated or non-hex escape, invalid UTF-8 or an over-long value all
// yield [ErrMalformedRequest].
func Parse(body []byte) (Credentials, error) {
	var (
		creds   Credentials
		hasSSID bool
	)

	for _, pair := range bytes.Split(body, []byte("&")) {
		if len(pair) == 0 {
			continue
		}
		rawKey, rawValue, _ := bytes.Cut(pair, []byte("="))

		key, err := unescape(rawKey)
		if err != nil {
			return Credentials{}, err
		}
		value, err := unescape(rawValue)
		if err != nil {
			return Credentials{}, fmt.Errorf("field %q: %w", key, err)
		}

		switch key {
		case FieldSSID:
			creds.SSID = value
			hasSSID = true
		case FieldPassword:
			creds.Passphrase = value
		}
	}

	if !hasSSID {
		return Credentials{}, fmt.Errorf("%w: missing %q", ErrMalformedRequest, FieldSSID)
	}
	if err := creds.Validate(); err != nil {
		return Credentials{}, err
	}
	return creds, nil
}

// Validate checks the platform limits.
func (c Credentials) Validate() error {
	switch {
	case c.SSID == "":
		return fmt.Errorf("%w: empty %q", ErrMalformedRequest, FieldSSID)
	case len(c.SSID) > MaxSSIDLen:
		return fmt.Errorf("%w: %q longer than %d bytes", ErrMalformedRequest, FieldSSID, MaxSSIDLen)
	case len(c.Passphrase) > MaxPassphraseLen:
		return fmt.Errorf("%w: %q longer than %d bytes", ErrMalformedRequest, FieldPassword, MaxPassphraseLen)
	}
	return nil
}

// Encode renders c as a form body, escaping spaces as %20.
func Encode(c Credentials) string {
	return FieldSSID + "=" + escape(c.SSID) + "&" + FieldPassword + "=" + escape(c.Passphrase)
}

func unescape(raw []byte) (string, error) {
	s, err := url.QueryUnescape(string(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedRequest, err)
	}
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: %w", ErrMalformedRequest, errInvalidUTF8)
	}
	return s, nil
}

var errInvalidUTF8 = errors.New("invalid UTF-8")

func escape(s string) string {
	// QueryEscape already turns a literal '+' into %2B
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
