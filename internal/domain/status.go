package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// DOHState is the days-on-hand severity of a row.
type DOHState string

const (
	DOHCritical DOHState = "CRITICAL"
	DOHWarning  DOHState = "WARNING"
	DOHNoSales  DOHState = "NO_SALES"
	DOHOK       DOHState = "OK"
)

// BalanceState is the shipment:depletion balance of a row.
type BalanceState string

const (
	BalanceUndersupply BalanceState = "UNDERSUPPLY"
	BalanceOversupply  BalanceState = "OVERSUPPLY"
	BalanceNoSales     BalanceState = "NO_SALES"
	BalanceBalanced    BalanceState = "BALANCED"
)

// Sort ranks, ascending = most urgent.
var dohRanks = map[DOHState]int{
	DOHCritical: 0,
	DOHWarning:  1,
	DOHNoSales:  2,
	DOHOK:       3,
}

var balanceRanks = map[BalanceState]int{
	BalanceUndersupply: 0,
	BalanceOversupply:  1,
	BalanceNoSales:     2,
	BalanceBalanced:    3,
}

var (
	dohCriticalBelow = decimal.NewFromInt(14)
	dohWarningBelow  = decimal.NewFromInt(30)
	ratioLowerBound  = decimal.RequireFromString("0.5")
	ratioUpperBound  = decimal.RequireFromString("2.0")
)

// DOHStates lists every DOH state in rank order.
func DOHStates() []DOHState {
	return []DOHState{DOHCritical, DOHWarning, DOHNoSales, DOHOK}
}

// BalanceStates lists every balance state in rank order.
func BalanceStates() []BalanceState {
	return []BalanceState{BalanceUndersupply, BalanceOversupply, BalanceNoSales, BalanceBalanced}
}

// Rank returns the sort rank of the state; unknown states sort last.
func (s DOHState) Rank() int {
	if r, ok := dohRanks[s]; ok {
		return r
	}
	return len(dohRanks)
}

// Rank returns the sort rank of the state; unknown states sort last.
func (s BalanceState) Rank() int {
	if r, ok := balanceRanks[s]; ok {
		return r
	}
	return len(balanceRanks)
}

// ParseDOHState returns the state for a label (case-insensitive).
func ParseDOHState(label string) (DOHState, bool) {
	s := DOHState(strings.ToUpper(strings.TrimSpace(label)))
	_, ok := dohRanks[s]
	return s, ok
}

// ParseBalanceState returns the state for a label (case-insensitive).
func ParseBalanceState(label string) (BalanceState, bool) {
	s := BalanceState(strings.ToUpper(strings.TrimSpace(label)))
	_, ok := balanceRanks[s]
	return s, ok
}

// ClassifyDOH maps a days-on-hand value to its severity.
func ClassifyDOH(doh decimal.NullDecimal) DOHState {
	switch {
	case !doh.Valid:
		return DOHNoSales
	case doh.Decimal.LessThan(dohCriticalBelow):
		return DOHCritical
	case doh.Decimal.LessThan(dohWarningBelow):
		return DOHWarning
	default:
		return DOHOK
	}
}

// ClassifyBalance maps a shipment:depletion ratio to its balance state. The
// balanced band is inclusive on both ends.
func ClassifyBalance(ratio decimal.NullDecimal) BalanceState {
	switch {
	case !ratio.Valid:
		return BalanceNoSales
	case ratio.Decimal.LessThan(ratioLowerBound):
		return BalanceUndersupply
	case ratio.Decimal.GreaterThan(ratioUpperBound):
		return BalanceOversupply
	default:
		return BalanceBalanced
	}
}

// Classification holds both axes for both windows.
type Classification struct {
	DOH30     DOHState     `json:"doh_30d"`
	DOH90     DOHState     `json:"doh_90d"`
	Balance30 BalanceState `json:"balance_30d"`
	Balance90 BalanceState `json:"balance_90d"`
}

// Classify computes every state of a metrics row.
func Classify(m Metrics) Classification {
	return Classification{
		DOH30:     ClassifyDOH(m.DOHT30),
		DOH90:     ClassifyDOH(m.DOHT90),
		Balance30: ClassifyBalance(m.A30Ratio),
		Balance90: ClassifyBalance(m.A90Ratio),
	}
}

// DOH returns the DOH state for a window length.
func (c Classification) DOH(window int) DOHState {
	if window == WindowLong {
		return c.DOH90
	}
	return c.DOH30
}

// Balance returns the balance state for a window length.
func (c Classification) Balance(window int) BalanceState {
	if window == WindowLong {
		return c.Balance90
	}
	return c.Balance30
}
