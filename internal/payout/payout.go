// Package payout formats earnings in the experiment's currency.
package payout

import (
	"fmt"
	"math"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders amounts of one currency for one display language.
type Formatter struct {
	unit    currency.Unit
	printer *message.Printer
}

// New parses an ISO 4217 code such as "EUR" or "USD".
func New(code string, lang language.Tag) (*Formatter, error) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("currency %q: %w", code, err)
	}
	return &Formatter{unit: unit, printer: message.NewPrinter(lang)}, nil
}

// Code returns the ISO code of the currency.
func (f *Formatter) Code() string { return f.unit.String() }

// Round rounds amount to the currency's standard precision.
func (f *Formatter) Round(amount float64) float64 {
	scale, _ := currency.Standard.Rounding(f.unit)
	p := math.Pow10(scale)
	return math.Round(amount*p) / p
}

// Format renders amount with the currency symbol, e.g. "€ 2.50".
func (f *Formatter) Format(amount float64) string {
	return f.printer.Sprint(currency.Symbol(f.unit.Amount(f.Round(amount))))
}
