// Package language labels the dominant language of a text sample.
//
// Detection is script based: each word of a bounded prefix is labelled by the
// language-specific characters it contains and the majority label wins.
// The detector never modifies its input.
package language

import (
	"strings"
	"unicode"
)

// Tag is a BCP 47 primary language subtag.
type Tag string

const (
	Vietnamese Tag = "vi"
	English    Tag = "en"
	Korean     Tag = "ko"
	Japanese   Tag = "ja"
	Chinese    Tag = "zh"
)

// DefaultSampleSize is the number of runes examined when none is configured.
const DefaultSampleSize = 500

var names = map[Tag]string{
	Vietnamese: "Vietnamese",
	English:    "English",
	Korean:     "Korean",
	Japanese:   "Japanese",
	Chinese:    "Chinese",
}

// Name returns the English name of the language, used in generation prompts.
func (t Tag) Name() string {
	if n, ok := names[t]; ok {
		return n
	}
	return string(t)
}

// Parse converts a subtag such as "vi" or "EN" into a known Tag.
func Parse(s string) (Tag, bool) {
	t := Tag(strings.ToLower(strings.TrimSpace(s)))
	_, ok := names[t]
	return t, ok
}

// Detector classifies text. The zero value is not usable; call New.
type Detector struct {
	fallback   Tag
	sampleSize int
}

// New creates a Detector. Unknown fallbacks become Vietnamese and
// non-positive sample sizes become DefaultSampleSize.
func New(fallback Tag, sampleSize int) *Detector {
	if _, ok := names[fallback]; !ok {
		fallback = Vietnamese
	}
	if sampleSize <= 0 {
		sampleSize = DefaultSampleSize
	}
	return &Detector{fallback: fallback, sampleSize: sampleSize}
}

// Fallback returns the tag used for ties and unlabelled samples.
func (d *Detector) Fallback() Tag {
	return d.fallback
}

// Detect returns the dominant language of the first sampleSize runes of text.
func (d *Detector) Detect(text string) Tag {
	counts := d.Count(text)

	best, bestCount, tied := d.fallback, 0, false
	for _, tag := range []Tag{Vietnamese, English, Korean, Japanese, Chinese} {
		c := counts[tag]
		switch {
		case c > bestCount:
			best, bestCount, tied = tag, c, false
		case c == bestCount && c > 0:
			tied = true
		}
	}
	if bestCount == 0 || tied {
		return d.fallback
	}
	return best
}

// Count returns the per-language weights of the sample. Space-delimited
// scripts weigh one per word; Chinese and Japanese weigh one per character
// since they are written without spaces. Words whose only accents also occur
// in loanwords (café, résumé) count as Vietnamese only when another word of
// the sample is unambiguously Vietnamese.
func (d *Detector) Count(text string) map[Tag]int {
	counts := make(map[Tag]int)
	loose := 0

	sample := []rune(text)
	if len(sample) > d.sampleSize {
		sample = sample[:d.sampleSize]
	}

	var word []rune
	flush := func() {
		if len(word) > 0 {
			switch tag, weight := classifyWord(word); {
			case tag == looseVietnamese:
				loose++
			case weight > 0:
				counts[tag] += weight
			}
			word = word[:0]
		}
	}
	for _, r := range sample {
		if unicode.IsLetter(r) || unicode.Is(unicode.Mn, r) {
			word = append(word, r)
			continue
		}
		flush()
	}
	flush()

	if counts[Vietnamese] > 0 {
		counts[Vietnamese] += loose
	}
	return counts
}

// looseVietnamese labels words accented only with letters Vietnamese shares
// with loanwords.
const looseVietnamese Tag = "vi?"

func classifyWord(word []rune) (Tag, int) {
	var hangul, kana, han, viet, shared, ascii, other int
	for _, r := range word {
		switch {
		case unicode.Is(unicode.Hangul, r):
			hangul++
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			kana++
		case unicode.Is(unicode.Han, r):
			han++
		case isVietnamese(r):
			viet++
		case strings.ContainsRune(sharedAccents, unicode.ToLower(r)):
			shared++
		case r < unicode.MaxASCII && unicode.IsLetter(r):
			ascii++
		default:
			other++
		}
	}

	switch {
	case hangul > 0:
		return Korean, 1
	case kana > 0:
		return Japanese, kana + han
	case han > 0:
		return Chinese, han
	case viet > 0:
		return Vietnamese, 1
	case shared > 0:
		return looseVietnamese, 1
	case ascii > 0 && other == 0:
		return English, 1
	}
	return "", 0
}

// vietnameseLetters holds letters outside Latin Extended Additional that
// Vietnamese orthography uses and English does not.
const vietnameseLetters = "ăâđêôơưãẽĩõũỳỹ"

// sharedAccents are Vietnamese tone-marked vowels that also appear in
// English loanwords.
const sharedAccents = "àáèéìíòóùúý"

func isVietnamese(r rune) bool {
	// Latin Extended Additional carries the stacked tone marks (ạ, ầ, ở, ự, ...).
	if r >= 0x1EA0 && r <= 0x1EF9 {
		return true
	}
	return strings.ContainsRune(vietnameseLetters, unicode.ToLower(r))
}
