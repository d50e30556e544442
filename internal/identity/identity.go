// Package identity derives a comparable title/year/episode identity from media
// and subtitle file names.
package identity

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// Identity is what a file name says about the media it belongs to.
type Identity struct {
	Title    string
	Year     int
	Season   int
	Episode  int
	Language string // ISO 639-1 code, empty when unknown
}

var (
	episodePattern = regexp.MustCompile(`(?i)(?:^|[\s._\-\[(])s(\d{1,2})[\s._-]?e(\d{1,3})(?:[\s._\-\])]|$)`)
	altEpisode     = regexp.MustCompile(`(?i)(?:^|[\s._\-\[(])(\d{1,2})x(\d{2,3})(?:[\s._\-\])]|$)`)
	yearPattern    = regexp.MustCompile(`(?:^|[\s._\-\[(])((?:19|20)\d{2})(?:[\s._\-\])]|$)`)
	separators     = regexp.MustCompile(`[._]+`)
	spaces         = regexp.MustCompile(`\s+`)
)

var knownExtensions = map[string]bool{
	".srt": true, ".ass": true, ".ssa": true, ".vtt": true, ".sub": true,
	".mkv": true, ".mp4": true, ".m4v": true, ".avi": true, ".mov": true,
	".ts": true, ".m2ts": true, ".webm": true, ".wmv": true,
}

// Parse reads an identity from a file name. It understands release names
// (Movie.Name.2001.1080p.BluRay.mkv), library names (Movie Name (2001).mkv),
// episode tags (S01E02, 1x02), per-stream cache names
// (Movie (2001) - English.srt) and discovery cache names (Movie (2001).en.srt).
func Parse(filename string) Identity {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if ext := strings.ToLower(path.Ext(name)); knownExtensions[ext] {
		name = strings.TrimSuffix(name, path.Ext(name))
	}

	var id Identity

	// Discovery cache names end with a language code segment.
	if i := strings.LastIndex(name, "."); i > 0 {
		if code := normalizeCode(name[i+1:]); code != "" {
			id.Language = code
			name = name[:i]
		}
	}

	// Per-stream cache names carry the stream display title after " - ".
	for i := 0; i < len(name); {
		j := strings.Index(name[i:], " - ")
		if j < 0 {
			break
		}
		at := i + j
		if code := LanguageFromTitle(name[at+3:]); code != "" && at > 0 {
			if id.Language == "" {
				id.Language = code
			}
			name = name[:at]
			break
		}
		i = at + 3
	}

	head := name
	if m := lastMatch(episodePattern, name); m != nil {
		id.Season, _ = strconv.Atoi(name[m[2]:m[3]])
		id.Episode, _ = strconv.Atoi(name[m[4]:m[5]])
		head = name[:m[0]]
	} else if m := lastMatch(altEpisode, name); m != nil {
		id.Season, _ = strconv.Atoi(name[m[2]:m[3]])
		id.Episode, _ = strconv.Atoi(name[m[4]:m[5]])
		head = name[:m[0]]
	}

	if m := lastMatch(yearPattern, head); m != nil {
		id.Year, _ = strconv.Atoi(head[m[2]:m[3]])
		head = head[:m[0]]
	}

	id.Title = cleanTitle(head)
	return id
}

// Complete reports whether the identity is specific enough to match on.
func (id Identity) Complete() bool {
	return id.Title != "" && (id.Year != 0 || id.Episode != 0)
}

// Matches reports whether both identities name the same media. Incomplete
// identities never match.
func (id Identity) Matches(other Identity) bool {
	if !id.Complete() || !other.Complete() {
		return false
	}
	return normalizeTitle(id.Title) == normalizeTitle(other.Title) &&
		id.Year == other.Year &&
		id.Season == other.Season &&
		id.Episode == other.Episode
}

// Token is a compact search string for providers.
func (id Identity) Token() string {
	var b strings.Builder
	b.WriteString(id.Title)
	if id.Year != 0 {
		fmt.Fprintf(&b, " %d", id.Year)
	}
	if id.Episode != 0 {
		fmt.Fprintf(&b, " S%02dE%02d", id.Season, id.Episode)
	}
	return b.String()
}

// lastMatch returns the submatch indexes of the last match that leaves a
// non-empty title in front of it.
func lastMatch(re *regexp.Regexp, s string) []int {
	all := re.FindAllStringSubmatchIndex(s, -1)
	for i := len(all) - 1; i >= 0; i-- {
		if strings.TrimFunc(s[:all[i][0]], isTitleSeparator) != "" {
			return all[i]
		}
	}
	return nil
}

func isTitleSeparator(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune("._-([", r)
}

func cleanTitle(s string) string {
	s = separators.ReplaceAllString(s, " ")
	s = spaces.ReplaceAllString(s, " ")
	return strings.TrimFunc(s, isTitleSeparator)
}

func normalizeTitle(s string) string {
	var b strings.Builder
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}

// normalizeCode validates a 2 or 3 letter language code and returns its
// ISO 639-1 base. Languages without a two-letter code are rejected so that
// ordinary words are not mistaken for rare language codes.
func normalizeCode(token string) string {
	if len(token) < 2 || len(token) > 3 {
		return ""
	}
	for _, r := range token {
		if r < 'a' || r > 'z' {
			return ""
		}
	}
	tag, err := language.Parse(token)
	if err != nil {
		return ""
	}
	base, conf := tag.Base()
	if conf == language.No || len(base.String()) != 2 {
		return ""
	}
	return base.String()
}

// languageNames maps lowercased English language names to codes.
var languageNames = func() map[string]string {
	names := make(map[string]string)
	namer := display.English.Languages()
	tags := display.Supported.Tags()
	for _, code := range []string{"en", "fr", "de", "es", "it", "pt", "nl", "sv", "no", "da", "fi", "pl",
		"ru", "ja", "zh", "ko", "ar", "he", "tr", "cs", "hu", "el", "ro", "uk", "hi", "th", "vi", "id"} {
		tags = append(tags, language.MustParse(code))
	}
	for _, tag := range tags {
		base, conf := tag.Base()
		if conf == language.No {
			continue
		}
		if name := namer.Name(language.Make(base.String())); name != "" {
			names[strings.ToLower(name)] = base.String()
		}
	}
	return names
}()

// LanguageFromTitle reads a language from a stream display title such as
// "English - SUBRIP", "French (Forced)" or "eng". It returns "" when the
// title names no known language.
func LanguageFromTitle(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	if len(fields) == 0 {
		return ""
	}
	if code, ok := languageNames[fields[0]]; ok {
		return code
	}
	if len(fields) == 1 {
		return normalizeCode(fields[0])
	}
	return ""
}

// NormalizeLanguage returns the ISO 639-1 code of a configured or reported
// language value, accepting codes and English names.
func NormalizeLanguage(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if code := normalizeCode(value); code != "" {
		return code
	}
	if code, ok := languageNames[value]; ok {
		return code
	}
	return ""
}
