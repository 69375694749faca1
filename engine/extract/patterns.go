package extract

import "regexp"

var (
	ecuRe = regexp.MustCompile(`\b(?:0[xX])?([0-9A-Fa-f]{3})\b`)
	didRe = regexp.MustCompile(`\b(?:0[xX])?([0-9A-Fa-f]{4})\b`)
	dtcRe = regexp.MustCompile(`\b[PBCU][0-9A-F]{4}\b`)

	requestedNodeRe = regexp.MustCompile(`(?:LOG>>)?\s*Requested\s+node\s*\(\d+\)\s*=\s*([0-9A-Fa-f]{3})\b`)

	nrcExplicitRe = regexp.MustCompile(`(?i)\bNRC\s*[=:]?\s*(?:0x)?([0-9a-f]{2})\b`)
	pendingRe     = regexp.MustCompile(`(?i)\b0x78\b`)

	// byteListRe matches runs of at least three hex bytes separated by
	// commas or whitespace, e.g. "[00,00,07,5C,7F,34,78]" or "7F 27 35".
	byteListRe = regexp.MustCompile(`(?i)\b(?:0x)?[0-9a-f]{2}\b(?:[\s,;]+(?:0x)?[0-9a-f]{2}\b){2,}`)
	byteSepRe  = regexp.MustCompile(`[\s,;]+`)

	voltRe      = regexp.MustCompile(`\b(\d+(?:\.\d+)?)\s*(?:V|[Vv]olts?)\b`)
	voltLabelRe = regexp.MustCompile(`(?i)\bvoltage\b\s*[:=]?\s*(\d+(?:\.\d+)?)`)
	socRe       = regexp.MustCompile(`(?i)\b(?:soc|state\s+of\s+charge)\b[^0-9%\n]{0,20}(\d+(?:\.\d+)?)\s*%`)
	tempRe      = regexp.MustCompile(`(?i)(-?\d+(?:\.\d+)?)\s*(?:°\s*C\b|deg(?:rees?)?\s*C?\b)`)
)
