package models

// Граф допустимых переходов статуса записи:
//
//	waiting ──► active ──► completed
//	   │          │    └──► skipped
//	   │          └───────► cancelled
//	   └──────────────────► cancelled
//
// completed, cancelled и skipped — терминальные статусы, обратных переходов нет.
var validTransitions = map[string][]string{
	StatusWaiting: {StatusActive, StatusCancelled},
	StatusActive:  {StatusCompleted, StatusSkipped, StatusCancelled},
}

// CanTransition проверяет допустимость перехода from → to.
func CanTransition(from, to string) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal сообщает, является ли статус терминальным.
func IsTerminal(s string) bool {
	return len(validTransitions[s]) == 0
}
