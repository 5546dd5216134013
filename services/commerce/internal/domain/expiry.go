package domain

import (
	"strings"
	"time"
)

// ComputeExpiry возвращает конец дня начала доступа (23:59:59 в loc) плюс months
// календарных месяцев, в UTC. День месяца прижимается к последнему дню
// целевого месяца: 31 января + 1 месяц = 28 (29) февраля.
func ComputeExpiry(startedAt time.Time, months int, loc *time.Location) time.Time {
	local := startedAt.In(loc)

	year, month := local.Year(), local.Month()+time.Month(months)
	// Нормализуем месяц через первое число, чтобы time.Date не перенёс день.
	first := time.Date(year, month, 1, 0, 0, 0, 0, loc)

	day := local.Day()
	if last := daysIn(first.Year(), first.Month(), loc); day > last {
		day = last
	}

	return time.Date(first.Year(), first.Month(), day, 23, 59, 59, 0, loc).UTC()
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// ResolveLocation загружает часовой пояс пользователя. Пустой или
// неизвестный пояс заменяется fallback.
func ResolveLocation(tz string, fallback *time.Location) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return fallback
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fallback
	}
	return loc
}
