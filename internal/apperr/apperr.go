package apperr

import (
	"errors"
	"fmt"
)

// Kind — класс доменной ошибки. Обработчики транслируют Kind в HTTP-статус,
// сервисный слой — решает, имеет ли смысл повтор (доменные ошибки не повторяются).
type Kind int

const (
	KindValidation Kind = iota // некорректный ввод
	KindNotFound               // сущность не найдена
	KindConflict               // нарушение инварианта (дубль, чужой статус, гонка)
	KindForbidden              // нет прав/владения
	KindStore                  // инфраструктурный сбой хранилища
)

// Error — типизированная доменная ошибка с машинным кодом для API.
type Error struct {
	Kind    Kind
	Code    string // SCREAMING_SNAKE код для response.ErrorResponse
	Message string
	// Stations заполняется для конфликтов с другими очередями:
	// названия станций, из-за которых вступление заблокировано.
	Stations []string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// QueueConflict — конфликт вступления из-за участия в других очередях.
// Несёт список станций-конкурентов.
func QueueConflict(code, msg string, stations []string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg, Stations: stations}
}

func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg}
}

func Store(msg string, err error) *Error {
	return &Error{Kind: KindStore, Code: "DB_ERROR", Message: msg, Err: err}
}

// As извлекает *Error из цепочки ошибок.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsKind проверяет класс ошибки в цепочке.
func IsKind(err error, k Kind) bool {
	if e, ok := As(err); ok {
		return e.Kind == k
	}
	return false
}
