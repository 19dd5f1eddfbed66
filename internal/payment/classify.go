package payment

import (
	"strings"

	"github.com/mmeshcher/accessgate/internal/apperr"
)

type classifyRule struct {
	substr string
	kind   apperr.Kind
}

// Правила проверяются по порядку, побеждает первое совпадение.
var classifyRules = []classifyRule{
	{substr: "rejected", kind: apperr.UserRejected},
	{substr: "insufficient", kind: apperr.InsufficientFunds},
	{substr: "not connected", kind: apperr.NotConnected},
}

// Classify переводит ошибку кошелька с произвольным текстом в таксономию.
// Сравнение нечувствительно к регистру. Без совпадений возвращается Unknown с исходным текстом.
func Classify(err error) *apperr.Error {
	if err == nil {
		return nil
	}
	if appErr, ok := apperr.As(err); ok {
		return appErr
	}

	msg := err.Error()
	lower := strings.ToLower(msg)
	for _, rule := range classifyRules {
		if strings.Contains(lower, rule.substr) {
			return apperr.Wrap(rule.kind, err)
		}
	}

	if msg == "" {
		return apperr.New(apperr.Unknown)
	}
	return &apperr.Error{Kind: apperr.Unknown, Message: msg, Err: err}
}
