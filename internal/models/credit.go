package models

import "time"

// CreditKind classifies a ledger entry.
type CreditKind string

const (
	CreditEarned  CreditKind = "EARNED"
	CreditUsed    CreditKind = "USED"
	CreditExpired CreditKind = "EXPIRED"
)

// CreditSource identifies the business reason a credit entry was written.
type CreditSource string

const (
	SourceInviteReward    CreditSource = "invite_reward"
	SourceMilestoneReward CreditSource = "milestone_reward"
	SourceReferralBonus   CreditSource = "referral_bonus"
	SourceAdminGrant      CreditSource = "admin_grant"
	SourceApprovalGrant   CreditSource = "approval_grant"
	SourcePurchase        CreditSource = "purchase"
	SourceSpend           CreditSource = "spend"
	SourceExpiry          CreditSource = "expiry"
)

// CreditRecord is a single append-only ledger entry. EARNED rows carry a
// positive amount and an optional expiry; USED and EXPIRED rows carry a
// negative amount and reference the EARNED row they consume via SourceID.
type CreditRecord struct {
	BaseModel

	UserID      string       `gorm:"type:uuid;index:idx_credit_user_kind;not null" json:"user_id"`
	Amount      int64        `gorm:"not null" json:"amount"`
	Kind        CreditKind   `gorm:"type:varchar(16);index:idx_credit_user_kind;not null" json:"kind"`
	Source      CreditSource `gorm:"type:varchar(64);not null" json:"source"`
	SourceID    string       `gorm:"type:varchar(64);index" json:"source_id"`
	Description string       `gorm:"type:text" json:"description"`

	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// CreditBalance is a materialized view over a user's CreditRecord rows. It is
// owned by the credit service and only ever written inside the transaction
// that mutated the underlying ledger.
type CreditBalance struct {
	UserID           string    `gorm:"primaryKey;type:uuid" json:"user_id"`
	TotalEarned      int64     `gorm:"not null;default:0" json:"total_earned"`
	TotalUsed        int64     `gorm:"not null;default:0" json:"total_used"`
	TotalExpired     int64     `gorm:"not null;default:0" json:"total_expired"`
	AvailableCredits int64     `gorm:"not null;default:0" json:"available_credits"`
	ExpiringCredits  int64     `gorm:"not null;default:0" json:"expiring_credits"`
	LastUpdated      time.Time `json:"last_updated"`
}
