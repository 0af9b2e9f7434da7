package treasury

import (
	"errors"
	"testing"
)

func TestParseAmountUnits(test *testing.T) {
	test.Parallel()
	cases := []struct {
		raw       string
		wantUnits int64
		wantErr   error
	}{
		{"100.00000001", 10000000001, nil},
		{"0.00000001", 1, nil},
		{"1", 100000000, nil},
		{" 2.5 ", 250000000, nil},
		{"0.000000001", 0, ErrInvalidAmountUnits},
		{"0", 0, ErrInvalidAmountUnits},
		{"-1", 0, ErrInvalidAmountUnits},
		{"", 0, ErrInvalidAmountUnits},
		{"abc", 0, ErrInvalidAmountUnits},
	}
	for _, testCase := range cases {
		amount, err := ParseAmountUnits(testCase.raw)
		if testCase.wantErr != nil {
			if !errors.Is(err, testCase.wantErr) {
				test.Fatalf("ParseAmountUnits(%q) error = %v, want %v", testCase.raw, err, testCase.wantErr)
			}
			continue
		}
		if err != nil {
			test.Fatalf("ParseAmountUnits(%q): %v", testCase.raw, err)
		}
		if amount.Int64() != testCase.wantUnits {
			test.Fatalf("ParseAmountUnits(%q) = %d, want %d", testCase.raw, amount.Int64(), testCase.wantUnits)
		}
	}
}

func TestParseBalanceUnitsAllowsZero(test *testing.T) {
	test.Parallel()
	units, err := ParseBalanceUnits("0")
	if err != nil {
		test.Fatalf("ParseBalanceUnits(0): %v", err)
	}
	if units != 0 {
		test.Fatalf("ParseBalanceUnits(0) = %d", units)
	}
	if _, err := ParseBalanceUnits("-0.5"); !errors.Is(err, ErrInvalidAmountUnits) {
		test.Fatalf("negative balance accepted: %v", err)
	}
}

func TestFormatUnitsRoundTrip(test *testing.T) {
	test.Parallel()
	for _, raw := range []string{"100.00000001", "0.00000001", "42.00000000"} {
		amount := mustAmount(test, raw)
		if amount.String() != raw {
			test.Fatalf("String() = %s, want %s", amount.String(), raw)
		}
	}
	if got := FormatUnits(-500000000); got != "-5.00000000" {
		test.Fatalf("FormatUnits(-5e8) = %s", got)
	}
}

func TestParsePercentageBounds(test *testing.T) {
	test.Parallel()
	if _, err := ParsePercentage("0"); !errors.Is(err, ErrInvalidPercentage) {
		test.Fatalf("zero percentage accepted: %v", err)
	}
	if _, err := ParsePercentage("100.00001"); !errors.Is(err, ErrInvalidPercentage) {
		test.Fatalf("percentage above 100 accepted: %v", err)
	}
	if _, err := ParsePercentage("100"); err != nil {
		test.Fatalf("100 rejected: %v", err)
	}
	if _, err := ParsePercentage("0.003"); err != nil {
		test.Fatalf("fractional percentage rejected: %v", err)
	}
}

func TestParseEnumsRejectUnknownValues(test *testing.T) {
	test.Parallel()
	if _, err := ParseAccountType("SAVINGS"); !errors.Is(err, ErrInvalidAccountType) {
		test.Fatalf("unknown account type accepted: %v", err)
	}
	if _, err := ParseTransactionType("TRANSFER"); !errors.Is(err, ErrInvalidTransactionType) {
		test.Fatalf("unknown transaction type accepted: %v", err)
	}
	if _, err := ParseTransactionStatus("DONE"); !errors.Is(err, ErrInvalidTransactionStatus) {
		test.Fatalf("unknown status accepted: %v", err)
	}
	if _, err := ParseAuditSubject("wallet"); !errors.Is(err, ErrInvalidAuditSubject) {
		test.Fatalf("unknown audit subject accepted: %v", err)
	}
	if _, err := ParseAuditAction("DELETE"); !errors.Is(err, ErrInvalidAuditAction) {
		test.Fatalf("unknown audit action accepted: %v", err)
	}
}

func TestTransactionTypeExternal(test *testing.T) {
	test.Parallel()
	if !TransactionExternalDeposit.External() || !TransactionExternalWithdrawal.External() {
		test.Fatalf("external types not reported as external")
	}
	if TransactionInternalAllocation.External() || TransactionReconciliation.External() {
		test.Fatalf("internal types reported as external")
	}
}

func TestNormalizeMetadataJSON(test *testing.T) {
	test.Parallel()
	normalized, err := NormalizeMetadataJSON("")
	if err != nil {
		test.Fatalf("empty metadata: %v", err)
	}
	if normalized != "{}" {
		test.Fatalf("empty metadata normalized to %q", normalized)
	}
	if _, err := NormalizeMetadataJSON(`{"k":"v"}`); err != nil {
		test.Fatalf("valid metadata rejected: %v", err)
	}
	if _, err := NormalizeMetadataJSON("{broken"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("broken metadata accepted: %v", err)
	}
}
