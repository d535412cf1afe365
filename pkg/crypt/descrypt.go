// Package crypt verifies player passwords. New passwords are bcrypt
// hashes; hashes imported from older worlds are crypt(password, "XX").
package crypt

import (
	"strings"

	descrypt "github.com/digitive/crypt"
	"golang.org/x/crypto/bcrypt"
)

// Crypt performs traditional Unix DES crypt(3).
func Crypt(password, salt string) string {
	result, err := descrypt.Crypt(password, salt)
	if err != nil {
		return ""
	}
	return result
}

// Hash returns a bcrypt hash of password.
func Hash(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword verifies password against a bcrypt or DES hash.
func CheckPassword(password, storedHash string) bool {
	if strings.HasPrefix(storedHash, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
	}
	if len(storedHash) < 2 || password == "" {
		return false
	}
	salt := storedHash[:2]
	computed := Crypt(password, salt)
	return computed != "" && computed == storedHash
}
