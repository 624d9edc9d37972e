package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyWindowStart returns the beginning of the daily-limit window that
// contains the given instant. Windows are aligned to UTC midnight so the
// boundary is deterministic across deployments.
func DailyWindowStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// WeekWindowStart returns UTC midnight of the Monday of the week
// containing the given instant.
func WeekWindowStart(now time.Time) time.Time {
	day := DailyWindowStart(now)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// MonthWindowStart returns UTC midnight of the first day of the month
// containing the given instant.
func MonthWindowStart(now time.Time) time.Time {
	u := now.UTC()
	return time.Date(u.Year(), u.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// CheckDailyLimit reports whether a proposed debit fits within the daily
// spending limit given the spend already confirmed inside the current
// window. The limit is inclusive: spend + proposed == limit is allowed.
func CheckDailyLimit(limit, spentToday, proposed decimal.Decimal) bool {
	return spentToday.Add(proposed).LessThanOrEqual(limit)
}

// RemainingDailyLimit returns how much of the daily limit is left,
// floored at zero.
func RemainingDailyLimit(limit, spentToday decimal.Decimal) decimal.Decimal {
	remaining := limit.Sub(spentToday)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}
