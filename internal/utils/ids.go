package utils

import (
	"log"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// GenerateNanoIDWithPrefix returns an id like "rprt_x1p9k2m4" with the given
// random-part length.
func GenerateNanoIDWithPrefix(prefix string, length int) string {
	id, err := gonanoid.Generate(idAlphabet, length)
	if err != nil {
		log.Printf("Error generating nanoid: %v", err)
		return ""
	}
	return prefix + "_" + id
}
