package accounts

import (
	"strings"
	"time"
)

// Binding maps a provider-specific login to the wallet address it acts as.
type Binding struct {
	Provider    string    `gorm:"column:provider;primaryKey;size:32;not null"`
	Subject     string    `gorm:"column:subject;primaryKey;size:190;not null"`
	Account     string    `gorm:"column:account;size:64;not null;index"`
	Email       string    `gorm:"column:user_email;size:320"`
	DisplayName string    `gorm:"column:user_display_name;size:320"`
	LastSeenAt  time.Time `gorm:"column:last_seen_at"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing account bindings.
func (Binding) TableName() string {
	return "account_bindings"
}

// Models lists the schema owned by the accounts package.
func Models() []any {
	return []any{&Binding{}}
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
