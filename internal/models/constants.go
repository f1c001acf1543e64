package models

import "time"

const (
	// DefaultHoldWindow время, которое повышенный из листа ожидания пользователь имеет на подтверждение
	DefaultHoldWindow = 2 * time.Hour

	// DefaultAutoApproveHours порог (в часах до начала), выше которого перенос одобряется автоматически
	DefaultAutoApproveHours = 24

	// DefaultPolicyHoursBefore бесплатная отмена не позднее чем за N часов
	DefaultPolicyHoursBefore = 6

	// DefaultPolicyRescheduleHoursBefore перенос не позднее чем за N часов
	DefaultPolicyRescheduleHoursBefore = 3

	// DefaultPolicyMaxReschedulesPerMonth лимит переносов в календарный месяц для политики по умолчанию
	DefaultPolicyMaxReschedulesPerMonth = 2

	// WorkerQueueSize размер очереди воркера уведомлений
	WorkerQueueSize = 128

	// RateLimitRequests количество запросов пользователя в окне
	RateLimitRequests = 30

	// RateLimitWindow окно ограничения частоты запросов
	RateLimitWindow = 60 // 1 минута в секундах

	// HoldExpiredReason причина отмены брони при истечении окна удержания
	HoldExpiredReason = "waitlist hold expired"
)

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
	RoleSystem = "system"
)
