package consecutive

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var valuePadRe = regexp.MustCompile(`\{VALUE:(\d+)\}`)

// Format renders a numeric value through a counter template. Supported
// tokens: {PREFIX}, {VALUE}, {VALUE:N} (zero-pad to N digits), {YEAR},
// {MONTH} (2-digit), {DAY} (2-digit). Rendering is a pure function of
// (template, prefix, value, at), so repeated application yields the same
// string.
func Format(template, prefix string, value int64, at time.Time) string {
	if template == "" {
		return fmt.Sprintf("%s%d", prefix, value)
	}

	out := template
	out = valuePadRe.ReplaceAllStringFunc(out, func(tok string) string {
		m := valuePadRe.FindStringSubmatch(tok)
		width := 0
		fmt.Sscan(m[1], &width)
		return fmt.Sprintf("%0*d", width, value)
	})
	out = strings.ReplaceAll(out, "{VALUE}", fmt.Sprintf("%d", value))
	out = strings.ReplaceAll(out, "{PREFIX}", prefix)
	out = strings.ReplaceAll(out, "{YEAR}", fmt.Sprintf("%04d", at.Year()))
	out = strings.ReplaceAll(out, "{MONTH}", fmt.Sprintf("%02d", int(at.Month())))
	out = strings.ReplaceAll(out, "{DAY}", fmt.Sprintf("%02d", at.Day()))
	return out
}

// ValidateTemplate rejects templates with unknown {TOKEN} placeholders.
func ValidateTemplate(template string) error {
	rest := valuePadRe.ReplaceAllString(template, "")
	for _, known := range []string{"{PREFIX}", "{VALUE}", "{YEAR}", "{MONTH}", "{DAY}"} {
		rest = strings.ReplaceAll(rest, known, "")
	}
	if idx := strings.IndexByte(rest, '{'); idx >= 0 {
		end := strings.IndexByte(rest[idx:], '}')
		if end < 0 {
			return fmt.Errorf("consecutive: unterminated token in format %q", template)
		}
		return fmt.Errorf("consecutive: unknown token %s in format %q", rest[idx:idx+end+1], template)
	}
	return nil
}
