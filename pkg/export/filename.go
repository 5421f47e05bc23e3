package export

import (
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// DefaultFilenameTemplate is used when a task defines no template of its own.
const DefaultFilenameTemplate = "{region}-{category}-{direction}-{window}"

var unknownPlaceholder = regexp.MustCompile(`\{\w+\}`)

// NameContext supplies the placeholder values for one artifact base name.
type NameContext struct {
	Region      string
	Category    string
	Direction   string
	WindowLabel string
	Now         time.Time
}

// BaseName expands a filename template into an extensionless artifact base
// name. Known placeholders are {region}, {category}, {direction}, {window}
// and {date}; any other braced token is replaced with "na". The result is
// reduced to a plain base name so templates cannot escape the run directory.
func BaseName(template string, ctx NameContext) string {
	if template == "" {
		template = DefaultFilenameTemplate
	}
	r := strings.NewReplacer(
		"{region}", orNA(ctx.Region),
		"{category}", orNA(ctx.Category),
		"{direction}", orNA(ctx.Direction),
		"{window}", orNA(ctx.WindowLabel),
		"{date}", ctx.Now.Format("20060102"),
	)
	name := r.Replace(template)
	name = unknownPlaceholder.ReplaceAllString(name, "na")
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		return "na"
	}
	return name
}

func orNA(s string) string {
	if s == "" {
		return "na"
	}
	return s
}
