package narrative

import (
	"strings"

	insight "machine-monitor/internal/insight/domain"
)

// ParseSections splits markdown-ish text into sections. Headers are either
// "## Title" lines or "**Title**:" (optionally followed by text on the same
// line). Text without any header yields empty sections.
func ParseSections(text string) insight.Sections {
	var out insight.Sections
	current := ""
	var buf []string

	flush := func() {
		body := strings.TrimSpace(strings.Join(buf, "\n"))
		buf = buf[:0]
		if current == "" || body == "" {
			return
		}
		assign(&out, current, body)
	}

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if title, rest, ok := header(line); ok {
			flush()
			current = normalizeKey(title)
			if rest != "" {
				buf = append(buf, rest)
			}
			continue
		}
		buf = append(buf, line)
	}
	flush()
	return out
}

func header(line string) (title, rest string, ok bool) {
	if strings.HasPrefix(line, "#") {
		title = strings.TrimSpace(strings.TrimLeft(line, "#"))
		return strings.TrimSuffix(title, ":"), "", title != ""
	}
	if !strings.HasPrefix(line, "**") {
		return "", "", false
	}
	end := strings.Index(line[2:], "**")
	if end < 0 {
		return "", "", false
	}
	title = strings.TrimSpace(line[2 : 2+end])
	after := line[2+end+2:]
	switch {
	case strings.HasPrefix(after, ":"):
		after = after[1:]
	case strings.HasSuffix(title, ":"):
		title = strings.TrimSuffix(title, ":")
	default:
		return "", "", false
	}
	return title, strings.TrimSpace(after), title != ""
}

func normalizeKey(title string) string {
	key := strings.ToLower(strings.TrimSpace(title))
	key = strings.Join(strings.Fields(key), "_")
	return strings.Trim(key, "_:")
}

func assign(s *insight.Sections, key, body string) {
	switch key {
	case "issue", "problem", "summary", "issue_summary":
		s.Issue = join(s.Issue, body)
	case "cause", "likely_cause", "root_cause", "probable_cause":
		s.Cause = join(s.Cause, body)
	case "risk", "risks", "impact", "risk_assessment":
		s.Risk = join(s.Risk, body)
	case "action", "actions", "recommended_action", "recommendation", "recommendations", "next_steps":
		s.Action = join(s.Action, body)
	default:
		if s.Extra == nil {
			s.Extra = make(map[string]string)
		}
		s.Extra[key] = join(s.Extra[key], body)
	}
}

func join(existing, body string) string {
	if existing == "" {
		return body
	}
	return existing + "\n" + body
}
