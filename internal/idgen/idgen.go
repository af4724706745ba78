// Package idgen provides short, URL-safe unique ID generation backed by nanoid.
package idgen

import (
	"errors"
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// ErrExhausted is returned when the random source cannot produce an ID.
var ErrExhausted = errors.New("idgen: entropy source exhausted")

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters in a record ID.
var Length = 8

// TokenLength is the number of random characters in a bearer secret.
const TokenLength = 32

// Generate returns a new record ID of Length characters.
func Generate() (string, error) {
	return GenerateN(Length)
}

// GenerateWithPrefix returns a new record ID with the given prefix.
func GenerateWithPrefix(prefix string) (string, error) {
	id, err := Generate()
	if err != nil {
		return "", err
	}
	return prefix + id, nil
}

// GenerateN returns n random characters drawn from Alphabet.
func GenerateN(n int) (string, error) {
	if n <= 0 {
		return "", fmt.Errorf("idgen: invalid length %d", n)
	}
	id, err := nanoid.Generate(Alphabet, n)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExhausted, err)
	}
	return id, nil
}
