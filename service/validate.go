package service

import (
	"strings"
	"unicode"

	"crmstore/model"
)

// An email only needs an '@' and a phone a single numeric rune.

func isValidEmail(email string) bool {
	return strings.ContainsRune(email, '@')
}

func isValidPhone(phone string) bool {
	return strings.IndexFunc(phone, unicode.IsNumber) >= 0
}

func isValidInteractionPayload(p model.InteractionPayload) bool {
	return p.InteractionType != "" && p.Content != ""
}
