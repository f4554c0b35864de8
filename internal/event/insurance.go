package event

import "github.com/google/uuid"

type InsuranceFundContribution struct {
	Contributor uuid.UUID `json:"contributor"`
	Market      string    `json:"market"`
	Amount      int64     `json:"amount"`
	Covered     int64     `json:"covered"` // moved from the insurance vault
	NewBalance  uint64    `json:"new_balance"`
}

func (e *InsuranceFundContribution) EventType() EventType { return EventTypeInsuranceFundContribution }
func (e *InsuranceFundContribution) Symbol() string       { return e.Market }

type InsuranceFundDeposit struct {
	Depositor uuid.UUID `json:"depositor"`
	Amount    int64     `json:"amount"`
	NewTotal  uint64    `json:"new_total"`
}

func (e *InsuranceFundDeposit) EventType() EventType { return EventTypeInsuranceFundDeposit }
func (e *InsuranceFundDeposit) Symbol() string       { return "" }

type InsuranceFundWithdrawal struct {
	Recipient uuid.UUID `json:"recipient"`
	Amount    int64     `json:"amount"`
	NewTotal  uint64    `json:"new_total"`
	Reason    string    `json:"reason"`
}

func (e *InsuranceFundWithdrawal) EventType() EventType { return EventTypeInsuranceFundWithdrawal }
func (e *InsuranceFundWithdrawal) Symbol() string       { return "" }
