package safety

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Decoder is one obfuscation strategy. It reports the hidden keyword and a
// reason when decoding exposes something the raw text does not show.
type Decoder struct {
	Name   string
	Weight int
	Detect func(spec ObfuscationSpec, text string) (string, bool)
	// ContextOnly decoders never see the action payload.
	ContextOnly bool
}

// Decoders are tried in order; the first hit is the obfuscation signal.
func Decoders() []Decoder {
	return []Decoder{
		{Name: "normalization", Weight: 40, Detect: detectNormalized},
		{Name: "rot13", Weight: 45, Detect: detectROT13},
		{Name: "pig_latin", Weight: 45, Detect: detectPigLatin},
		{Name: "acrostic", Weight: 50, Detect: detectAcrostic, ContextOnly: true},
		{Name: "first_letters", Weight: 50, Detect: detectFirstLetters, ContextOnly: true},
		{Name: "base64", Weight: 55, Detect: detectBase64},
		{Name: "poetic_framing", Weight: 45, Detect: detectPoeticPair},
		{Name: "poetic_coordinates", Weight: 40, Detect: detectPoeticCoordinates},
		{Name: "metaphor", Weight: 35, Detect: detectMetaphor},
	}
}

func scoreObfuscation(in Input) (Signal, bool) {
	text := in.Context
	if in.payload != "" && in.Action.Kind != "" {
		text = in.payload + "\n" + in.Context
	}
	for _, d := range Decoders() {
		target := text
		if d.ContextOnly {
			target = in.Context
		}
		if reason, ok := d.Detect(in.Patterns.obfuscation, target); ok {
			return Signal{Rule: "obfuscation", Weight: d.Weight, Reason: d.Name + ": " + reason}, true
		}
	}
	return Signal{}, false
}

// hidden returns the first keyword present in decoded but absent from raw.
func hidden(keywords []string, decoded, raw string) (string, bool) {
	for _, keyword := range keywords {
		if strings.Contains(decoded, keyword) && !strings.Contains(raw, keyword) {
			return keyword, true
		}
	}
	return "", false
}

var (
	spacedRun  = regexp.MustCompile(`\b\pL(?:[ .\-_]\pL){2,}\b`)
	tokenSplit = regexp.MustCompile(`\S+`)
)

var leetMap = strings.NewReplacer("0", "o", "1", "i", "3", "e", "4", "a", "5", "s", "7", "t", "@", "a", "$", "s")

var homoglyphs = strings.NewReplacer(
	"а", "a", "е", "e", "о", "o", "р", "p", "с", "c", "у", "y", "х", "x", "ѕ", "s", "і", "i", "ј", "j",
	"к", "k", "т", "t", "н", "h", "м", "m", "в", "b", "ԁ", "d", "ӏ", "l", "ԝ", "w",
)

// Normalize folds spacing tricks, leetspeak and Cyrillic homoglyphs into plain
// lowercase Latin text.
func Normalize(text string) string {
	lower := homoglyphs.Replace(strings.ToLower(text))

	// "s h u t d o w n" and "d.e.l.e.t.e" collapse; ordinary words are untouched
	// because only runs of single letters match.
	lower = spacedRun.ReplaceAllStringFunc(lower, func(run string) string {
		return strings.Map(func(r rune) rune {
			if r == ' ' || r == '.' || r == '-' || r == '_' {
				return -1
			}
			return r
		}, run)
	})

	return tokenSplit.ReplaceAllStringFunc(lower, func(token string) string {
		if mixesLettersAndLeet(token) {
			token = leetMap.Replace(token)
		}
		if strings.ContainsAny(token, "-_") && isLettersWithJoiners(token) {
			token = strings.NewReplacer("-", "", "_", "").Replace(token)
		}
		return token
	})
}

func mixesLettersAndLeet(token string) bool {
	hasLetter, hasLeet := false, false
	for _, r := range token {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case strings.ContainsRune("013457@$", r):
			hasLeet = true
		}
	}
	return hasLetter && hasLeet
}

func isLettersWithJoiners(token string) bool {
	for _, r := range token {
		if !unicode.IsLetter(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}

func detectNormalized(spec ObfuscationSpec, text string) (string, bool) {
	keyword, ok := hidden(spec.Keywords, Normalize(text), strings.ToLower(text))
	if !ok {
		return "", false
	}
	return "obfuscated keyword " + keyword, true
}

// ROT13 rotates ASCII letters by 13.
func ROT13(text string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return 'a' + (r-'a'+13)%26
		case r >= 'A' && r <= 'Z':
			return 'A' + (r-'A'+13)%26
		default:
			return r
		}
	}, text)
}

func detectROT13(spec ObfuscationSpec, text string) (string, bool) {
	keyword, ok := hidden(spec.Keywords, strings.ToLower(ROT13(text)), strings.ToLower(text))
	if !ok {
		return "", false
	}
	return "rot13-encoded " + keyword, true
}

// DecodePigLatin reverses the simple "hutdownsay" form word by word.
func DecodePigLatin(text string) string {
	words := strings.Fields(strings.ToLower(text))
	for i, word := range words {
		if len(word) <= 3 || !strings.HasSuffix(word, "ay") {
			continue
		}
		stem := word[:len(word)-2]
		if len(stem) > 1 {
			words[i] = stem[len(stem)-1:] + stem[:len(stem)-1]
		}
	}
	return strings.Join(words, " ")
}

func detectPigLatin(spec ObfuscationSpec, text string) (string, bool) {
	keyword, ok := hidden(spec.Keywords, DecodePigLatin(text), strings.ToLower(text))
	if !ok {
		return "", false
	}
	return "pig-latin-encoded " + keyword, true
}

const (
	// Long texts spell almost anything by accident.
	maxLetterRun = 30
	// Shorter keywords turn up in ordinary sentences.
	minLetterKeyword = 5
)

// hiddenInLetters is hidden restricted to keywords long enough to be
// deliberate when spelled by initial letters.
func hiddenInLetters(keywords []string, letters, raw string) (string, bool) {
	if len(letters) < minLetterKeyword || len(letters) > maxLetterRun {
		return "", false
	}
	long := make([]string, 0, len(keywords))
	for _, keyword := range keywords {
		if len(keyword) >= minLetterKeyword {
			long = append(long, keyword)
		}
	}
	return hidden(long, letters, strings.ToLower(raw))
}

// Acrostic joins the first letter of every non-empty line.
func Acrostic(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for _, r := range line {
			if unicode.IsLetter(r) {
				b.WriteRune(unicode.ToLower(r))
				break
			}
		}
	}
	return b.String()
}

func detectAcrostic(spec ObfuscationSpec, text string) (string, bool) {
	keyword, ok := hiddenInLetters(spec.Keywords, Acrostic(text), text)
	if !ok {
		return "", false
	}
	return "acrostic hides " + keyword, true
}

// FirstLetters joins the first letter of every word.
func FirstLetters(text string) string {
	var b strings.Builder
	for _, word := range strings.Fields(text) {
		for _, r := range word {
			if unicode.IsLetter(r) {
				b.WriteRune(unicode.ToLower(r))
				break
			}
		}
	}
	return b.String()
}

func detectFirstLetters(spec ObfuscationSpec, text string) (string, bool) {
	keyword, ok := hiddenInLetters(spec.Keywords, FirstLetters(text), text)
	if !ok {
		return "", false
	}
	return "first letters hide " + keyword, true
}

var base64Token = regexp.MustCompile(`[A-Za-z0-9+/]{8,}={0,2}`)

func detectBase64(spec ObfuscationSpec, text string) (string, bool) {
	for _, token := range base64Token.FindAllString(text, -1) {
		decoded, err := base64.StdEncoding.DecodeString(token)
		if err != nil || !utf8.Valid(decoded) || !mostlyPrintable(decoded) {
			continue
		}
		lower := strings.ToLower(string(decoded))
		for _, keyword := range spec.Base64Keywords {
			if strings.Contains(lower, keyword) {
				return "base64-encoded " + keyword, true
			}
		}
	}
	return "", false
}

func mostlyPrintable(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	printable := 0
	for _, r := range string(data) {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	return printable*10 >= utf8.RuneCount(data)*9
}

func hasPoeticFrame(spec ObfuscationSpec, lower string) bool {
	for _, frame := range spec.PoeticFrames {
		if strings.Contains(lower, frame) {
			return true
		}
	}
	return false
}

func detectPoeticPair(spec ObfuscationSpec, text string) (string, bool) {
	lower := strings.ToLower(text)
	if !hasPoeticFrame(spec, lower) {
		return "", false
	}
	for _, pair := range spec.PoeticPairs {
		if strings.Contains(lower, pair[0]) && strings.Contains(lower, pair[1]) {
			return pair[0] + " + " + pair[1] + " in creative framing", true
		}
	}
	return "", false
}

var embeddedCoordinates = regexp.MustCompile(`\(\s*\d+\s*,\s*\d+\s*\)`)

func detectPoeticCoordinates(spec ObfuscationSpec, text string) (string, bool) {
	lower := strings.ToLower(text)
	if hasPoeticFrame(spec, lower) && embeddedCoordinates.MatchString(lower) {
		return "coordinates embedded in a story or poem", true
	}
	return "", false
}

func detectMetaphor(spec ObfuscationSpec, text string) (string, bool) {
	lower := strings.ToLower(text)
	if !containsAny(lower, "click", "press", "button") {
		return "", false
	}
	for _, metaphor := range spec.Metaphors {
		if strings.Contains(lower, metaphor) {
			return "metaphor for a destructive action: " + metaphor, true
		}
	}
	return "", false
}
