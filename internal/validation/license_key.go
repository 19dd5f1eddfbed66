// Package validation содержит функции валидации входных данных.
package validation

import "strings"

const (
	licenseGroups    = 4
	licenseGroupSize = 5
	// LicenseKeyLength длина ключа вида XXXXX-XXXXX-XXXXX-XXXXX.
	LicenseKeyLength = licenseGroups*licenseGroupSize + licenseGroups - 1
)

// IsValidLicenseKey проверяет, что ключ состоит из четырёх групп по пять
// заглавных латинских букв или цифр, разделённых дефисом.
func IsValidLicenseKey(key string) bool {
	if len(key) != LicenseKeyLength {
		return false
	}

	for i := 0; i < len(key); i++ {
		ch := key[i]
		if (i+1)%(licenseGroupSize+1) == 0 {
			if ch != '-' {
				return false
			}
			continue
		}
		if !isUpperAlnum(ch) {
			return false
		}
	}

	return true
}

// NormalizeLicenseKey приводит введённый пользователем текст к виду ключа:
// верхний регистр, только буквы и цифры, группы по пять, не длиннее LicenseKeyLength.
// Результат не обязан быть корректным ключом.
func NormalizeLicenseKey(input string) string {
	upper := strings.ToUpper(input)

	var b strings.Builder
	n := 0
	for i := 0; i < len(upper); i++ {
		ch := upper[i]
		if !isUpperAlnum(ch) {
			continue
		}
		if n > 0 && n%licenseGroupSize == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(ch)
		n++
	}

	out := b.String()
	if len(out) > LicenseKeyLength {
		out = out[:LicenseKeyLength]
	}
	return out
}

func isUpperAlnum(ch byte) bool {
	return (ch >= 'A' && ch <= 'Z') || (ch >= '0' && ch <= '9')
}
