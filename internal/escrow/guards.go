package escrow

import (
	"github.com/dmitrorezn/escrow-pay/internal/domain"
	"github.com/dmitrorezn/escrow-pay/internal/faults"
)

// authorize fails iff the actual principal differs from the expected
// one. It is never bypassed, admin included: admin only passes where
// the admin identity is the expected value.
func authorize(actual, expected domain.Addr) error {
	if actual != expected {
		return faults.Unauthorized()
	}

	return nil
}

// correctFeePaid checks that the bundled transfer matches the
// configured fee in the designated fee token.
func correctFeePaid(amount uint64, token domain.Addr, cfg Config) error {
	if amount != cfg.Fee {
		return faults.WrongAmount(amount, cfg.Fee)
	}
	if token != cfg.FeeToken.Address {
		return faults.WrongToken(token, cfg.FeeToken.Address)
	}

	return nil
}

// correctAmountOfToken checks that a received transfer matches the
// expected (amount, token) pair exactly.
func correctAmountOfToken(paid, expected uint64, paidToken, expectedToken domain.Addr) error {
	if paid != expected {
		return faults.WrongAmount(paid, expected)
	}
	if paidToken != expectedToken {
		return faults.WrongToken(paidToken, expectedToken)
	}

	return nil
}

// zeroAmount guards relay calls that must not move value.
func zeroAmount(amount uint64) error {
	if amount != 0 {
		return faults.WrongAmount(amount, 0)
	}

	return nil
}
