package uploader

import "fmt"

// CitationFormat selects how a successful upload is rendered for the user.
type CitationFormat string

const (
	FormatPlain    CitationFormat = "plain"
	FormatHTML     CitationFormat = "html"
	FormatMarkdown CitationFormat = "markdown"
	FormatBBCode   CitationFormat = "bbcode"
)

// ParseCitationFormat maps a stored preference string to a format, falling
// back to plain links for anything unknown.
func ParseCitationFormat(s string) CitationFormat {
	switch CitationFormat(s) {
	case FormatHTML, FormatMarkdown, FormatBBCode:
		return CitationFormat(s)
	default:
		return FormatPlain
	}
}

// FormatLink renders one uploaded file's display line.
func FormatLink(format CitationFormat, url, fileName string) string {
	switch format {
	case FormatHTML:
		return fmt.Sprintf(`<img src="%s" alt="%s" />`, url, fileName)
	case FormatMarkdown:
		return fmt.Sprintf("![%s](%s)", fileName, url)
	case FormatBBCode:
		return fmt.Sprintf("[img]%s[/img]", url)
	default:
		return url
	}
}
