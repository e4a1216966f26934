package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

var (
	streetAbbreviations = map[string]string{
		"street":    "st",
		"avenue":    "ave",
		"drive":     "dr",
		"road":      "rd",
		"boulevard": "blvd",
		"lane":      "ln",
		"court":     "ct",
		"place":     "pl",
		"circle":    "cir",
		"crescent":  "cres",
		"terrace":   "ter",
		"highway":   "hwy",
		"parkway":   "pkwy",
		"square":    "sq",
		"trail":     "trl",
		"gardens":   "gdns",
		"north":     "n",
		"south":     "s",
		"east":      "e",
		"west":      "w",
		"northeast": "ne",
		"northwest": "nw",
		"southeast": "se",
		"southwest": "sw",
		"apartment": "apt",
		"suite":     "ste",
		"floor":     "fl",
		"building":  "bldg",
	}
	nonAlnumRegex = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeAddress lowercases an address, strips punctuation and abbreviates
// street words token by token, so "12 King Street West" and "12 king st. w"
// normalize the same way.
func NormalizeAddress(addr string) string {
	addr = nonAlnumRegex.ReplaceAllString(strings.ToLower(addr), " ")
	tokens := strings.Fields(addr)
	for i, tok := range tokens {
		if abbrev, ok := streetAbbreviations[tok]; ok {
			tokens[i] = abbrev
		}
	}
	return strings.Join(tokens, " ")
}

// AddressKey groups listings of the same physical address. Empty input
// yields an empty key.
func AddressKey(unparsedAddress string) string {
	normalized := NormalizeAddress(unparsedAddress)
	if normalized == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}
