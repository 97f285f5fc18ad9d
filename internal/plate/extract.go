package plate

// codeLen is the number of leading characters that form the province code.
const codeLen = 2

// Extract splits plate text into the issuing province and the remaining
// registration number. Text too short to carry a code yields Unknown and the
// text unchanged; an unregistered code yields Unknown and the remainder.
//
// Characters are counted as runes so OCR output with non-ASCII glyphs is
// never cut inside a code point.
func Extract(text string) (province, number string) {
	runes := []rune(text)
	if len(runes) < codeLen {
		return Unknown, text
	}

	code := string(runes[:codeLen])
	number = string(runes[codeLen:])

	province, ok := LookupProvince(code)
	if !ok {
		province = Unknown
	}
	return province, number
}
