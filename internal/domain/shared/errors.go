// Package shared содержит ошибки домена, общие для всех пакетов каталога.
// Пакет не зависит ни от чего, кроме стандартной библиотеки.
package shared

import "fmt"

// Класс ошибки определяет, как её видят внешние слои (HTTP, CLI).
type class int

const (
	classNone class = iota
	classNotFound
	classValidation
	classUpstream
)

// kindError - базовая ошибка с классом. Сравнивается по указателю.
type kindError struct {
	msg   string
	class class
}

func (k *kindError) Error() string { return k.msg }

func newKind(msg string, c class) error {
	return &kindError{msg: msg, class: c}
}

// Базовые ошибки для проверки через errors.Is.
var (
	ErrNotFound      = newKind("entity not found", classNotFound)
	ErrInvalidEntity = newKind("invalid entity", classNone)
	ErrInvalidState  = newKind("invalid state", classNone)

	ErrValidation      = newKind("validation error", classValidation)
	ErrInvalidID       = newKind("invalid ID", classValidation)
	ErrInvalidInput    = newKind("invalid input", classValidation)
	ErrEmptyValue      = newKind("value cannot be empty", classValidation)
	ErrValueOutOfRange = newKind("value out of range", classValidation)

	ErrServiceUnavailable = newKind("service unavailable", classUpstream)
	ErrTimeout            = newKind("operation timeout", classUpstream)
	ErrRateLimited        = newKind("rate limited", classUpstream)
)

// ══════════════════════════════════════════════════════════════════════════════
// DOMAIN ERROR
// ══════════════════════════════════════════════════════════════════════════════

// DomainError - ошибка с контекстом: где (Domain.Op), что (Kind),
// текст для клиента (Message) и первопричина (Err).
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	prefix := e.Domain + "." + e.Op
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
	default:
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
}

// Unwrap отдаёт и Kind, и первопричину, так что errors.Is/As видят обе цепочки.
func (e *DomainError) Unwrap() []error {
	out := make([]error, 0, 2)
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewDomainError создаёт ошибку домена без первопричины.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return WrapError(domain, op, kind, message, nil)
}

// WrapError оборачивает err контекстом домена.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLASSIFICATION
// ══════════════════════════════════════════════════════════════════════════════

func hasClass(err error, c class) bool {
	for err != nil {
		if k, ok := err.(*kindError); ok && k.class == c {
			return true
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, inner := range u.Unwrap() {
				if hasClass(inner, c) {
					return true
				}
			}
			return false
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return false
		}
	}
	return false
}

// IsNotFound - сущность не найдена.
func IsNotFound(err error) bool { return hasClass(err, classNotFound) }

// IsValidation - некорректный ввод клиента.
func IsValidation(err error) bool { return hasClass(err, classValidation) }

// IsExternalService - отказ или перегрузка внешнего источника.
func IsExternalService(err error) bool { return hasClass(err, classUpstream) }
