package codec

import (
	"math"
	"sort"
	"time"
)

func doubleBits(f float64) uint64   { return math.Float64bits(f) }
func doubleFromBits(b uint64) float64 { return math.Float64frombits(b) }

func timeFromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

// languageCode/languageName give LanguageSet a stable, compact 16-bit
// wire representation instead of storing the ISO string inline, through
// a small registry seeded with common tags; a tag outside the registry
// encodes as code 0 and decodes as "".
var (
	languageTable  []string
	languageLookup map[string]uint16
)

func init() {
	languageTable = []string{"", "en", "ja", "zh", "ko", "fr", "de", "es", "it", "pt", "ru"}
	languageLookup = make(map[string]uint16, len(languageTable))
	for i, l := range languageTable {
		languageLookup[l] = uint16(i)
	}
}

func languageCode(lang string) uint16 {
	if c, ok := languageLookup[lang]; ok {
		return c
	}
	return 0
}

func languageName(code uint16) string {
	if int(code) < len(languageTable) {
		return languageTable[code]
	}
	return ""
}

// sortLanguages is used by CompareValues on copies of both LanguageSets,
// so two Values referring to the same set compare equal regardless of
// insertion order.
func sortLanguages(in []string) []string {
	out := append([]string(nil), in...)
	sort.Strings(out)
	return out
}
