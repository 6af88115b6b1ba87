package recordings

import (
	"regexp"
	"strings"
)

var firstSentence = regexp.MustCompile(`^[^.!?]+[.!?]`)

// Header is the "company, person" line dictated at the start of a recording.
type Header struct {
	Text    string
	Company *string
	Person  *string
	// Body is the transcript without the header, or the full transcript when no header was found.
	Body string
}

// ParseHeader takes the first non-empty line (or, failing that, the first sentence) as the header,
// splits it on the first comma into company and person, and strips it from the transcript.
func ParseHeader(transcript string) Header {
	h := Header{Body: transcript}

	for _, line := range strings.Split(transcript, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			h.Text = line
			break
		}
	}
	if h.Text == "" {
		if m := firstSentence.FindString(transcript); m != "" {
			h.Text = strings.TrimSpace(m)
		}
	}
	if h.Text == "" {
		return h
	}

	if company, person, ok := strings.Cut(h.Text, ","); ok {
		h.Company = nonEmpty(company)
		h.Person = nonEmpty(person)
	}
	if i := strings.Index(transcript, h.Text); i >= 0 {
		h.Body = strings.TrimSpace(transcript[i+len(h.Text):])
	}
	return h
}

// SafeParseHeader is ParseHeader that treats any panic as "no header".
func SafeParseHeader(transcript string) (h Header, ok bool) {
	defer func() {
		if recover() != nil {
			h, ok = Header{Body: transcript}, false
		}
	}()
	return ParseHeader(transcript), true
}

func nonEmpty(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
