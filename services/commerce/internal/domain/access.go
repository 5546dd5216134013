package domain

import "time"

// Причины изменения доступа.
const (
	ReasonPlanChange          = "change plan"
	ReasonSupersededByPayment = "superseded by payment"
	ReasonExpired             = "expired"
)

// Access — выданное право пользования продуктом определённого типа.
type Access struct {
	ID             string
	UserID         string
	Type           ProductType
	ProductID      string
	OrderID        *string
	Status         AccessStatus
	IsActive       bool
	StartedAt      time.Time
	ExpiredAt      time.Time
	DurationMonths int
	UpdateReason   string
	CreatedBy      string
	UpdatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Tests []AccessTest
}

// AccessTest — доступ к тестам конкретного учреждения внутри Access.
type AccessTest struct {
	ID              string
	AccessID        string
	InstitutionID   string
	InstitutionName string
	CreatedBy       string
	UpdatedBy       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// AccessRevokeLog — запись журнала отзыва.
type AccessRevokeLog struct {
	ID        string
	AccessID  string
	Reason    string
	RevokedBy string
	CreatedAt time.Time
}

// SubGrant — запрос на доступ к тестам учреждения.
type SubGrant struct {
	InstitutionID   string
	InstitutionName string
}

// EffectiveStatus возвращает expired для активного доступа с истёкшим сроком,
// даже если фоновая проверка ещё не обновила строку.
func (a *Access) EffectiveStatus(now time.Time) AccessStatus {
	if a.Status == AccessStatusActive && now.After(a.ExpiredAt) {
		return AccessStatusExpired
	}
	return a.Status
}

// IsCurrentlyActive возвращает true для активного и не истёкшего доступа.
func (a *Access) IsCurrentlyActive(now time.Time) bool {
	return a.EffectiveStatus(now) == AccessStatusActive
}

// Revoke переводит доступ в revoked. Повторный отзыв и отзыв истёкшего
// доступа отклоняются с ErrAccessNotActive.
func (a *Access) Revoke(reason, actor string, now time.Time) (*AccessRevokeLog, error) {
	if err := CheckAccessTransition(a.EffectiveStatus(now), AccessStatusRevoked); err != nil {
		return nil, err
	}
	a.Status = AccessStatusRevoked
	a.IsActive = false
	a.UpdateReason = reason
	a.UpdatedBy = actor
	a.UpdatedAt = now

	return &AccessRevokeLog{
		AccessID:  a.ID,
		Reason:    reason,
		RevokedBy: actor,
		CreatedAt: now,
	}, nil
}

// ToSubGrants возвращает набор учреждений доступа для переноса в новый доступ.
func (a *Access) ToSubGrants() []SubGrant {
	out := make([]SubGrant, 0, len(a.Tests))
	for _, t := range a.Tests {
		out = append(out, SubGrant{InstitutionID: t.InstitutionID, InstitutionName: t.InstitutionName})
	}
	return out
}

// Validate проверяет запрос на доступ к тестам учреждения.
func (g SubGrant) Validate() error {
	if g.InstitutionID == "" {
		return ErrInvalidSubGrant
	}
	return nil
}
