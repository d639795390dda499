package models

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

type EntryKind string

const (
	EntryKindDebit  EntryKind = "debit"
	EntryKindCredit EntryKind = "credit"
	// EntryKindMarker tags a batch run; it never moves a balance.
	EntryKindMarker EntryKind = "marker"
)

// MarkerAmount is the nominal amount carried by marker entries; amounts must
// be positive.
var MarkerAmount = decimal.New(1, -2)

// LedgerEntry is an append-only record of a balance movement.
type LedgerEntry struct {
	ID                   int64           `json:"id" db:"id"`
	AccountID            int64           `json:"account_id" db:"account_id"`
	Kind                 EntryKind       `json:"kind" db:"kind"`
	Amount               decimal.Decimal `json:"amount" db:"amount"`
	Description          string          `json:"description" db:"description"`
	Reference            string          `json:"reference" db:"reference"`
	BatchID              sql.NullString  `json:"batch_id" db:"batch_id"`
	SourceAccountID      sql.NullInt64   `json:"source_account_id" db:"source_account_id"`
	DestinationAccountID sql.NullInt64   `json:"destination_account_id" db:"destination_account_id"`
	OccurredAt           time.Time       `json:"occurred_at" db:"occurred_at"`
}
