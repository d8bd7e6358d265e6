package utils

// MatchName reports whether a table name matches a pattern. Patterns may
// contain '*' wildcards matching any run of characters, including none, so
// "doc*" covers "documents" and "*" covers everything.
func MatchName(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	return matchPattern(value, pattern)
}

func matchPattern(value, pattern string) bool {
	vIndex, pIndex := 0, 0
	vLen, pLen := len(value), len(pattern)
	// backtrack positions for the most recent '*'
	starP, starV := -1, 0

	for vIndex < vLen {
		switch {
		case pIndex < pLen && pattern[pIndex] == '*':
			starP, starV = pIndex, vIndex
			pIndex++
		case pIndex < pLen && pattern[pIndex] == value[vIndex]:
			pIndex++
			vIndex++
		case starP >= 0:
			starV++
			vIndex = starV
			pIndex = starP + 1
		default:
			return false
		}
	}
	for pIndex < pLen && pattern[pIndex] == '*' {
		pIndex++
	}
	return pIndex == pLen
}
