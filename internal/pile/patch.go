package pile

import (
	"fmt"
	"strings"
)

// Patch is one entry of the series: a diff payload plus the commit
// metadata that git-format-patch recorded for it. Identity for caching is
// derived from the parsed content, never from Name or series position.
type Patch struct {
	// Name is the file name from the series file. Informational only.
	Name string

	// Data holds the raw mbox-formatted patch file.
	Data []byte

	// AuthorName and AuthorEmail come from the From: header. Either may
	// be empty when the patch was produced without an identity.
	AuthorName  string
	AuthorEmail string

	// AuthorDate is the raw Date: header value.
	AuthorDate string

	// Message is the commit message: the de-prefixed Subject: followed by
	// the mail body up to the diff separator.
	Message string

	// Diff is the payload handed to the apply primitive: everything from
	// the first hunk header onward, minus the mail signature trailer.
	Diff []byte
}

// Subject returns the first line of the commit message.
func (p *Patch) Subject() string {
	subject, _, _ := strings.Cut(p.Message, "\n")
	return subject
}

// parsePatch extracts commit metadata and the diff payload from an
// mbox-formatted patch file as produced by git-format-patch.
func parsePatch(name string, data []byte) (Patch, error) {
	p := Patch{Name: name, Data: data}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	headerText, body, found := strings.Cut(text, "\n\n")
	if !found {
		return Patch{}, fmt.Errorf("malformed patch: missing header separator")
	}

	headers, err := parseHeaders(headerText)
	if err != nil {
		return Patch{}, err
	}

	p.AuthorName, p.AuthorEmail = splitAddress(headers["from"])
	p.AuthorDate = headers["date"]

	subject := stripSubjectPrefix(headers["subject"])
	if subject == "" {
		return Patch{}, fmt.Errorf("malformed patch: missing Subject header")
	}

	message, diff := splitBody(body)
	p.Message = subject
	if message != "" {
		p.Message += "\n\n" + message
	}
	p.Diff = []byte(diff)
	if len(p.Diff) == 0 {
		return Patch{}, fmt.Errorf("malformed patch: no diff payload")
	}
	return p, nil
}

// parseHeaders reads RFC 2822 style headers with folded continuation
// lines. The leading "From <sha> <date>" mbox separator line is skipped.
func parseHeaders(text string) (map[string]string, error) {
	headers := map[string]string{}
	current := ""
	for i, line := range strings.Split(text, "\n") {
		if i == 0 && strings.HasPrefix(line, "From ") {
			continue
		}
		if line == "" {
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if current == "" {
				return nil, fmt.Errorf("malformed patch: continuation line before any header")
			}
			headers[current] += " " + strings.TrimSpace(line)
			continue
		}
		key, val, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("malformed patch: bad header line %q", line)
		}
		current = strings.ToLower(strings.TrimSpace(key))
		headers[current] = strings.TrimSpace(val)
	}
	return headers, nil
}

// splitAddress splits `Name <email>` into its parts. A bare address comes
// back with an empty name.
func splitAddress(addr string) (name, email string) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", ""
	}
	open := strings.LastIndexByte(addr, '<')
	close := strings.LastIndexByte(addr, '>')
	if open < 0 || close < open {
		return "", addr
	}
	name = strings.TrimSpace(addr[:open])
	name = strings.Trim(name, `"`)
	email = addr[open+1 : close]
	return name, email
}

// stripSubjectPrefix removes the "[PATCH]"-style bracket prefixes that
// format-patch adds. Reordering a series renumbers these prefixes, and the
// commit message must not change because of it.
func stripSubjectPrefix(subject string) string {
	subject = strings.TrimSpace(subject)
	for strings.HasPrefix(subject, "[") {
		end := strings.IndexByte(subject, ']')
		if end < 0 {
			break
		}
		subject = strings.TrimSpace(subject[end+1:])
	}
	return subject
}

// splitBody separates the commit message body from the diff payload. The
// diff starts at the "---" separator line or, when that is absent, at the
// first "diff --git" line. The mail signature after the final "-- " line
// is not part of the payload.
func splitBody(body string) (message, diff string) {
	lines := strings.Split(body, "\n")
	cut := -1
	for i, line := range lines {
		if line == "---" || strings.HasPrefix(line, "diff --git ") {
			cut = i
			break
		}
	}
	if cut < 0 {
		return strings.TrimSpace(body), ""
	}

	message = strings.TrimSpace(strings.Join(lines[:cut], "\n"))

	diffLines := lines[cut:]
	if diffLines[0] == "---" {
		diffLines = diffLines[1:]
	}
	for i, line := range diffLines {
		if line == "-- " {
			diffLines = diffLines[:i]
			break
		}
	}
	diff = strings.Join(diffLines, "\n")
	if diff != "" && !strings.HasSuffix(diff, "\n") {
		diff += "\n"
	}
	return message, diff
}
