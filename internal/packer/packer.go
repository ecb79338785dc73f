// Package packer concatenates text units into a single request payload that never exceeds a
// byte budget.
//
// Units are taken greedily in order. A unit that does not fit is replaced by a headline-only
// reference when that fits, and dropped otherwise. If no unit fits in full, a prefix of the first
// unit's body is forced in so the payload is never empty when input existed.
package packer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// OmittedMarker replaces the body of a unit that only fits as a reference.
const OmittedMarker = "[omitted: over budget]"

// Unit is one document offered for packing.
type Unit struct {
	ID       string
	Headline string
	Body     string
}

// Result is the packed payload. Included counts units whose full body made it in; Truncated is
// set when any unit was reduced to a reference, dropped, or cut short.
type Result struct {
	Payload   string
	Included  int
	Truncated bool
	Forced    bool
}

// Packer renders units under a fixed preamble.
type Packer struct {
	Preamble string
}

// New creates a packer whose payloads start with preamble.
func New(preamble string) *Packer {
	return &Packer{Preamble: preamble}
}

// Render formats one unit as it appears in the payload.
func Render(u Unit) string {
	return renderHeader(u) + strings.TrimSpace(u.Body) + "\n\n---\n\n"
}

func renderHeader(u Unit) string {
	return fmt.Sprintf("## %s\nSource: %s\n\n", u.Headline, u.ID)
}

// Pack fills budget bytes with units in order. len(Result.Payload) <= budget always holds.
func (p *Packer) Pack(units []Unit, budget int) Result {
	if budget <= 0 {
		return Result{Truncated: len(units) > 0}
	}

	var b strings.Builder
	b.WriteString(Truncate(p.Preamble, budget))

	var res Result
	for _, u := range units {
		entry := Render(u)
		if b.Len()+len(entry) <= budget {
			b.WriteString(entry)
			res.Included++
			continue
		}

		res.Truncated = true
		ref := Render(Unit{ID: u.ID, Headline: u.Headline, Body: OmittedMarker})
		if b.Len()+len(ref) <= budget {
			b.WriteString(ref)
		}
	}
	res.Payload = b.String()

	if res.Included == 0 && len(units) > 0 {
		res.Payload = p.force(units[0], budget)
		res.Forced = true
		res.Truncated = true
	}
	return res
}

// force builds a payload around a budget-bounded prefix of u's body. The preamble and the unit
// header are kept only when they leave room for at least some body text.
func (p *Packer) force(u Unit, budget int) string {
	header := renderHeader(u)
	body := strings.TrimSpace(u.Body)

	for _, prefix := range []string{p.Preamble + header, header, ""} {
		room := budget - len(prefix)
		if room <= 0 {
			continue
		}
		cut := Truncate(body, room)
		if cut == "" && body != "" {
			continue
		}
		return prefix + cut
	}
	return Truncate(body, budget)
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
