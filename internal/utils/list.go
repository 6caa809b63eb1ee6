package utils

import "strings"

func SliceToString(slice []string) string {
	return strings.Join(slice, ",")
}

func StringToSlice(str string) []string {
	if str == "" {
		return []string{}
	}
	parts := strings.Split(str, ",")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}
