// Package validation содержит функции валидации входных данных.
package validation

import (
	"strings"
	"unicode"

	"github.com/dewcredit/creditcase-system/internal/model"
)

// MaxMessageLength ограничивает длину сообщения в портале.
const MaxMessageLength = 4000

// IsValidEmail выполняет базовую проверку адреса электронной почты.
func IsValidEmail(email string) bool {
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return false
	}
	domain := email[at+1:]
	if !strings.Contains(domain, ".") || strings.ContainsAny(email, " \t") {
		return false
	}
	return len(email) <= 254
}

// IsValidPhone проверяет телефонный номер: опциональный плюс и 10–15 цифр.
func IsValidPhone(phone string) bool {
	if phone == "" {
		return false
	}
	s := phone
	if s[0] == '+' {
		s = s[1:]
	}
	if len(s) < 10 || len(s) > 15 {
		return false
	}
	for _, ch := range s {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// IsValidSSNLast4 проверяет маскированный SSN: ровно четыре цифры.
// Полный SSN через эту границу не проходит.
func IsValidSSNLast4(last4 string) bool {
	if len(last4) != 4 {
		return false
	}
	for _, ch := range last4 {
		if !unicode.IsDigit(ch) {
			return false
		}
	}
	return true
}

// IsValidDocumentType проверяет тип документа по списку допустимых.
func IsValidDocumentType(t model.DocumentType) bool {
	switch t {
	case model.DocumentTypeIDFront,
		model.DocumentTypeIDBack,
		model.DocumentTypeSSCard,
		model.DocumentTypeProofAddress,
		model.DocumentTypeAuthorizationForm,
		model.DocumentTypeCreditorStatement,
		model.DocumentTypePayoffLetter:
		return true
	}
	return false
}

// IsValidMessageContent проверяет текст сообщения: непустой и в пределах лимита.
func IsValidMessageContent(content string) bool {
	trimmed := strings.TrimSpace(content)
	return trimmed != "" && len(content) <= MaxMessageLength
}
