// Package validate holds the payout detail format checks shared by the
// withdrawal service and the request binding layer.
package validate

import (
	"errors"
	"strings"

	"github.com/opensharehq/pointsledger/internal/models"
)

var (
	ErrIDNumber    = errors.New("id number must be 17 digits followed by a digit or X")
	ErrPhone       = errors.New("phone must be 11 digits starting with 1")
	ErrBankAccount = errors.New("bank account must be 10 to 25 digits")
	ErrRealName    = errors.New("real name is required")
	ErrBankName    = errors.New("bank name is required")
)

// IDNumber checks the 18 character citizen id format: 17 digits plus a
// final digit or the check letter X.
func IDNumber(s string) error {
	if len(s) != 18 {
		return ErrIDNumber
	}
	for i := 0; i < 17; i++ {
		if s[i] < '0' || s[i] > '9' {
			return ErrIDNumber
		}
	}
	last := s[17]
	if (last < '0' || last > '9') && last != 'X' && last != 'x' {
		return ErrIDNumber
	}
	return nil
}

// Phone checks the 11 digit mobile number format with the leading 1.
func Phone(s string) error {
	if len(s) != 11 || s[0] != '1' {
		return ErrPhone
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return ErrPhone
		}
	}
	return nil
}

// BankAccount strips spaces and dashes, then requires 10 to 25 digits.
// Returns the normalized account number.
func BankAccount(s string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, s)

	if len(cleaned) < 10 || len(cleaned) > 25 {
		return "", ErrBankAccount
	}
	for i := 0; i < len(cleaned); i++ {
		if cleaned[i] < '0' || cleaned[i] > '9' {
			return "", ErrBankAccount
		}
	}
	return cleaned, nil
}

// Payout validates every field of the payout details and returns a copy
// with the bank account normalized.
func Payout(p models.PayoutDetails) (models.PayoutDetails, error) {
	if strings.TrimSpace(p.RealName) == "" {
		return p, ErrRealName
	}
	if strings.TrimSpace(p.BankName) == "" {
		return p, ErrBankName
	}
	if err := IDNumber(p.IDNumber); err != nil {
		return p, err
	}
	if err := Phone(p.Phone); err != nil {
		return p, err
	}

	account, err := BankAccount(p.BankAccount)
	if err != nil {
		return p, err
	}
	p.BankAccount = account

	return p, nil
}
