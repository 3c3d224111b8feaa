package tokens

// TransferKind labels journal entries.
type TransferKind string

const (
	// TransferKindMint records newly issued supply.
	TransferKindMint TransferKind = "mint"
	// TransferKindTransfer records a holder moving its own balance.
	TransferKindTransfer TransferKind = "transfer"
	// TransferKindTransferFrom records a spender moving an approved balance.
	TransferKindTransferFrom TransferKind = "transfer_from"
)

// Balance stores the spendable token amount of an account.
type Balance struct {
	Account          string `gorm:"column:account;primaryKey;size:64;not null"`
	Amount           int64  `gorm:"column:amount;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Balance) TableName() string {
	return "token_balances"
}

// Allowance stores how much a spender may move on behalf of an owner.
type Allowance struct {
	Owner            string `gorm:"column:owner;primaryKey;size:64;not null"`
	Spender          string `gorm:"column:spender;primaryKey;size:64;not null"`
	Amount           int64  `gorm:"column:amount;not null;default:0"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Allowance) TableName() string {
	return "token_allowances"
}

// Transfer is an append-only journal entry for every balance movement.
type Transfer struct {
	TransferID       string       `gorm:"column:transfer_id;primaryKey;size:64;not null"`
	Kind             TransferKind `gorm:"column:kind;size:32;not null"`
	Spender          string       `gorm:"column:spender;size:64;not null;default:''"`
	FromAccount      string       `gorm:"column:from_account;size:64;not null;default:'';index:idx_token_transfers_from"`
	ToAccount        string       `gorm:"column:to_account;size:64;not null;index:idx_token_transfers_to"`
	Amount           int64        `gorm:"column:amount;not null"`
	AppliedAtSeconds int64        `gorm:"column:applied_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Transfer) TableName() string {
	return "token_transfers"
}

// Models lists the schema owned by the token ledger.
func Models() []any {
	return []any{&Balance{}, &Allowance{}, &Transfer{}}
}
