package domain

import "strings"

// replaceSuffixMarker introduces the uniqueness suffix appended to a shadow
// ClOrdID when a chained replace keeps the primary ClOrdID unchanged.
const replaceSuffixMarker = "-R"

// StripReplaceSuffix removes a trailing -R<digits> uniqueness suffix, if
// present, returning the canonical ClOrdID.
func StripReplaceSuffix(clOrdID string) string {
	idx := strings.LastIndex(clOrdID, replaceSuffixMarker)
	if idx <= 0 {
		return clOrdID
	}
	suffix := clOrdID[idx+len(replaceSuffixMarker):]
	if suffix == "" {
		return clOrdID
	}
	for _, c := range suffix {
		if c < '0' || c > '9' {
			return clOrdID
		}
	}
	return clOrdID[:idx]
}

// ParseShadowClOrdID splits a COPY-<shadowAccount>-<primaryClOrdID> ClOrdID
// into its parts. Replace-uniqueness suffixes are stripped first. ok is false
// when the value does not follow the shadow convention.
func ParseShadowClOrdID(clOrdID string) (shadowAccount, primaryClOrdID string, ok bool) {
	id := StripReplaceSuffix(clOrdID)
	if !strings.HasPrefix(id, ShadowClOrdIDPrefix) {
		return "", "", false
	}
	rest := id[len(ShadowClOrdIDPrefix):]
	sep := strings.Index(rest, "-")
	if sep <= 0 || sep == len(rest)-1 {
		return "", "", false
	}
	return rest[:sep], rest[sep+1:], true
}
