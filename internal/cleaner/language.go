package cleaner

import (
	"strings"

	"github.com/abadojack/whatlanggo"
	"github.com/asticode/go-astisub"
)

const (
	// minDetectRunes is the amount of text below which detection is unreliable.
	minDetectRunes = 40
	minConfidence  = 0.5
)

// DetectLanguage guesses the ISO 639-1 code of the dialogue in subs. It
// returns "" when there is too little text or no reliable answer.
func DetectLanguage(subs *astisub.Subtitles) (string, float64) {
	if subs == nil {
		return "", 0
	}

	var b strings.Builder
	for _, item := range subs.Items {
		for _, line := range item.Lines {
			b.WriteString(line.String())
			b.WriteByte('\n')
		}
	}

	text := b.String()
	if len([]rune(strings.TrimSpace(text))) < minDetectRunes {
		return "", 0
	}

	info := whatlanggo.Detect(text)
	if info.Confidence < minConfidence {
		return "", info.Confidence
	}
	return info.Lang.Iso6391(), info.Confidence
}

// DetectFileLanguage parses an SRT file and detects its language.
func DetectFileLanguage(path string) (string, float64, error) {
	subs, err := astisub.OpenFile(path)
	if err != nil {
		return "", 0, err
	}
	code, confidence := DetectLanguage(subs)
	return code, confidence, nil
}
