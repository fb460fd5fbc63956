// Package qr encodes and decodes the check-in payload embedded in event QR codes.
package qr

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Form tells which payload format Decode recognised
type Form int

const (
	FormInvalid Form = iota
	FormURL
	FormLegacy
)

func (f Form) String() string {
	switch f {
	case FormURL:
		return "url"
	case FormLegacy:
		return "legacy"
	}
	return "invalid"
}

// SourceQR is the src query value written by Encode
const SourceQR = "qr"

// SourceLegacy is reported for payloads in the colon format
const SourceLegacy = "legacy"

var (
	attendancePath = regexp.MustCompile(`^/attendance/([A-Za-z0-9-]+)/?$`)
	legacyPayload  = regexp.MustCompile(`^attendance:([A-Za-z0-9-]+):(\d+)$`)
)

// Decoded is the result of Decode. Only Form distinguishes success from failure.
type Decoded struct {
	Form      Form
	EventID   string
	Timestamp time.Time
	Source    string
}

// OK reports whether the payload was recognised
func (d Decoded) OK() bool { return d.Form != FormInvalid }

// Encode builds the payload for eventID at time now
func Encode(eventID, baseURL string, now time.Time) string {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	return base + "/attendance/" + url.PathEscape(eventID) +
		"?t=" + strconv.FormatInt(now.UnixMilli(), 10) + "&src=" + SourceQR
}

// Decode parses payload in the URL form, falling back to the legacy colon form only when the
// input is not an absolute URL. It never panics; bad input yields FormInvalid.
func Decode(payload string) Decoded {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Decoded{}
	}

	if u, err := url.Parse(payload); err == nil && u.Scheme != "" && u.Host != "" {
		return decodeURL(u)
	}
	return decodeLegacy(payload)
}

func decodeURL(u *url.URL) Decoded {
	if u.Scheme != "http" && u.Scheme != "https" {
		return Decoded{}
	}
	m := attendancePath.FindStringSubmatch(u.Path)
	if m == nil {
		return Decoded{}
	}

	q := u.Query()
	d := Decoded{Form: FormURL, EventID: m[1], Source: q.Get("src")}
	if raw := q.Get("t"); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return Decoded{}
		}
		d.Timestamp = time.UnixMilli(ms).UTC()
	}
	return d
}

func decodeLegacy(payload string) Decoded {
	m := legacyPayload.FindStringSubmatch(payload)
	if m == nil {
		return Decoded{}
	}
	secs, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Decoded{}
	}
	return Decoded{
		Form:      FormLegacy,
		EventID:   m[1],
		Timestamp: time.Unix(secs, 0).UTC(),
		Source:    SourceLegacy,
	}
}
