package credentials

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Credentials
	}{
		{
			name: "plain",
			body: "ssid=HomeNet&password=secret123",
			want: Credentials{SSID: "HomeNet", Passphrase: "secret123"},
		},
		{
			name: "percent escapes",
			body: "ssid=My%20Home%20Wi-Fi&password=p%40ss%20word%21",
			want: Credentials{SSID: "My Home Wi-Fi", Passphrase: "p@ss word!"},
		},
		{
			name: "plus is space",
			body: "ssid=Cafe+Guest&password=a+b",
			want: Credentials{SSID: "Cafe Guest", Passphrase: "a b"},
		},
		{
			name: "open network",
			body: "ssid=Library&password=",
			want: Credentials{SSID: "Library"},
		},
		{
			name: "password omitted",
			body: "ssid=Library",
			want: Credentials{SSID: "Library"},
		},
		{
			name: "order does not matter",
			body: "password=pw123456&ssid=Attic",
			want: Credentials{SSID: "Attic", Passphrase: "pw123456"},
		},
		{
			name: "unknown keys ignored",
			body: "hidden=1&ssid=Attic&channel=6&password=pw",
			want: Credentials{SSID: "Attic", Passphrase: "pw"},
		},
		{
			name: "last value wins",
			body: "ssid=First&ssid=Second&password=x",
			want: Credentials{SSID: "Second", Passphrase: "x"},
		},
		{
			name: "empty pairs skipped",
			body: "&&ssid=Attic&&password=pw&",
			want: Credentials{SSID: "Attic", Passphrase: "pw"},
		},
		{
			name: "utf-8 escapes",
			body: "ssid=Caf%C3%A9&password=%E2%9C%93",
			want: Credentials{SSID: "Café", Passphrase: "✓"},
		},
		{
			name: "equals inside value",
			body: "ssid=a%3Db&password=x=y",
			want: Credentials{SSID: "a=b", Passphrase: "x=y"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.body))
			if err != nil {
				t.Fatalf("Parse(%q) error = %v", tt.body, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.body, got, tt.want)
			}
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"dangling escape", "ssid=abc&password=%"},
		{"one hex digit at end", "ssid=abc&password=%4"},
		{"non-hex escape", "ssid=abc&password=%zz"},
		{"bad escape in key", "ss%id=abc"},
		{"bad escape in unknown field", "ssid=abc&extra=%G0"},
		{"missing ssid", "password=secret"},
		{"empty ssid", "ssid=&password=secret"},
		{"empty body", ""},
		{"invalid utf-8", "ssid=%FF%FE&password=x"},
		{"ssid too long", "ssid=" + strings.Repeat("a", MaxSSIDLen+1)},
		{"passphrase too long", "ssid=a&password=" + strings.Repeat("p", MaxPassphraseLen+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse([]byte(tt.body))
			if !errors.Is(err, ErrMalformedRequest) {
				t.Fatalf("Parse(%q) error = %v, want ErrMalformedRequest", tt.body, err)
			}
			if got != (Credentials{}) {
				t.Errorf("Parse(%q) returned %+v alongside error", tt.body, got)
			}
		})
	}
}

func TestParse_LimitsInclusive(t *testing.T) {
	body := "ssid=" + strings.Repeat("s", MaxSSIDLen) + "&password=" + strings.Repeat("p", MaxPassphraseLen)
	if _, err := Parse([]byte(body)); err != nil {
		t.Errorf("Parse() at exact limits error = %v", err)
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	original := Credentials{SSID: "My Home Wi-Fi", Passphrase: "p@ss word!"}

	encoded := Encode(original)
	if want := "ssid=My%20Home%20Wi-Fi&password=p%40ss%20word%21"; encoded != want {
		t.Errorf("Encode() = %q, want %q", encoded, want)
	}

	got, err := Parse([]byte(encoded))
	if err != nil {
		t.Fatalf("Parse(Encode()) error = %v", err)
	}
	if got != original {
		t.Errorf("round trip = %+v, want %+v", got, original)
	}
}

func TestEncode_RoundTripAwkwardBytes(t *testing.T) {
	for _, c := range []Credentials{
		{SSID: "a+b", Passphrase: "1+1=2"},
		{SSID: "100%", Passphrase: "%zz"},
		{SSID: "amp&rsand", Passphrase: "semi;colon"},
		{SSID: "Café", Passphrase: ""},
	} {
		got, err := Parse([]byte(Encode(c)))
		if err != nil {
			t.Fatalf("Parse(Encode(%+v)) error = %v", c, err)
		}
		if got != c {
			t.Errorf("round trip = %+v, want %+v", got, c)
		}
	}
}

func TestCredentials_RedactsPassphrase(t *testing.T) {
	c := Credentials{SSID: "HomeNet", Passphrase: "secret123"}

	if strings.Contains(c.String(), "secret123") {
		t.Errorf("String() leaks passphrase: %s", c.String())
	}

	var buf bytes.Buffer
	slog.New(slog.NewJSONHandler(&buf, nil)).Info("joining", "credentials", c)
	if strings.Contains(buf.String(), "secret123") {
		t.Errorf("log output leaks passphrase: %s", buf.String())
	}
	if !strings.Contains(buf.String(), "HomeNet") {
		t.Errorf("log output missing ssid: %s", buf.String())
	}
}
