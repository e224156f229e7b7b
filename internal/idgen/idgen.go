// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 10

// NewSessionID returns an ID for a single shell run, e.g. "ks-a8Zk3fQ29x".
func NewSessionID() (string, error) {
	return generate("ks-")
}

// NewImpressionID returns an ID for a single ad impression, e.g. "imp-Xq02vLm3ra".
func NewImpressionID() (string, error) {
	return generate("imp-")
}

func generate(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
