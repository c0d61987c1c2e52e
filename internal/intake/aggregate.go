package intake

import (
	"regexp"
	"strings"
)

// Payload is one submission: text first, then browser files, then device
// files.
type Payload struct {
	Text  string
	Files []UploadedFile
	Model string
}

func (p Payload) Empty() bool {
	return strings.TrimSpace(p.Text) == "" && len(p.Files) == 0
}

func (p Payload) FileNames() []string {
	names := make([]string, 0, len(p.Files))
	for _, file := range p.Files {
		names = append(names, file.Name)
	}
	return names
}

// Aggregate merges text and every source into one payload. The order of the
// sources argument does not matter. Nothing is rejected here.
func Aggregate(text, model string, sources ...FileSource) Payload {
	payload := Payload{Text: SanitizeText(text), Model: model}
	for _, origin := range []Source{SourceBrowser, SourceDevice} {
		for _, source := range sources {
			if source == nil || source.Origin() != origin {
				continue
			}
			payload.Files = append(payload.Files, source.Files()...)
		}
	}
	return payload
}

// Rejections lists every file dropped by the given sources.
func Rejections(sources ...FileSource) []Rejection {
	var out []Rejection
	for _, source := range sources {
		if source == nil {
			continue
		}
		out = append(out, source.Rejected()...)
	}
	return out
}

// AnnotatedText is the original text as it is archived, prefixed with the
// names of the submitted files.
func AnnotatedText(p Payload) string {
	if len(p.Files) == 0 {
		return p.Text
	}
	return strings.TrimSpace("[Files: " + strings.Join(p.FileNames(), ", ") + "] " + p.Text)
}

var (
	scriptTag   = regexp.MustCompile(`(?is)<script\b.*?</script>`)
	iframeTag   = regexp.MustCompile(`(?is)<iframe\b.*?</iframe>`)
	objectTag   = regexp.MustCompile(`(?is)<object\b.*?</object>`)
	embedTag    = regexp.MustCompile(`(?is)<embed\b.*?</embed>`)
	jsScheme    = regexp.MustCompile(`(?i)javascript:`)
	inlineEvent = regexp.MustCompile(`(?i)on\w+\s*=`)
)

// SanitizeText removes markup that must never reach the analysis service or
// the archive, then trims surrounding whitespace.
func SanitizeText(text string) string {
	for _, re := range []*regexp.Regexp{scriptTag, iframeTag, objectTag, embedTag, jsScheme, inlineEvent} {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
