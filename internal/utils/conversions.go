package utils

// ToStringSlice filters a decoded JSON array down to its string members.
// Non-string entries are dropped.
func ToStringSlice(slice []any) []string {
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
