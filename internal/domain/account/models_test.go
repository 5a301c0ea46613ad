package account

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestTypeForSubtype(t *testing.T) {
	tests := []struct {
		subtype string
		want    string
	}{
		{SubtypeDepository, TypeAsset},
		{SubtypeBrokerage, TypeAsset},
		{SubtypeCrypto, TypeAsset},
		{SubtypeProperty, TypeAsset},
		{SubtypeVehicle, TypeAsset},
		{SubtypeStock, TypeAsset},
		{SubtypeCreditCard, TypeLiability},
		{SubtypeLoan, TypeLiability},
	}

	for _, tt := range tests {
		t.Run(tt.subtype, func(t *testing.T) {
			if got := TypeForSubtype(tt.subtype); got != tt.want {
				t.Errorf("TypeForSubtype(%q) = %q, want %q", tt.subtype, got, tt.want)
			}
		})
	}
}

func TestIsValidCurrency(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{"USD", true},
		{"EUR", true},
		{"usd", false},
		{"US", false},
		{"USDT", false},
		{"", false},
		{"U5D", false},
	}

	for _, tt := range tests {
		if got := IsValidCurrency(tt.code); got != tt.want {
			t.Errorf("IsValidCurrency(%q) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestUpsertConnectedParams_Validate(t *testing.T) {
	valid := UpsertConnectedParams{
		UserID:                  "user-1",
		AccountConnectionID:     10,
		InstitutionConnectionID: 3,
		ProviderAccountID:       "acc-1",
		Name:                    "Checking",
		Subtype:                 SubtypeDepository,
		Value:                   decimal.NewFromInt(100),
		Currency:                "USD",
	}

	tests := []struct {
		name    string
		mutate  func(p *UpsertConnectedParams)
		wantErr error
	}{
		{name: "valid", mutate: func(p *UpsertConnectedParams) {}},
		{name: "matching explicit type", mutate: func(p *UpsertConnectedParams) {
			p.Subtype = SubtypeCreditCard
			p.Type = TypeLiability
		}},
		{name: "liability subtype typed as asset", mutate: func(p *UpsertConnectedParams) {
			p.Subtype = SubtypeLoan
			p.Type = TypeAsset
		}, wantErr: ErrTypeMismatch},
		{name: "unknown subtype", mutate: func(p *UpsertConnectedParams) {
			p.Subtype = "checking"
		}, wantErr: ErrInvalidSubtype},
		{name: "bad currency", mutate: func(p *UpsertConnectedParams) {
			p.Currency = "dollars"
		}, wantErr: ErrInvalidCurrency},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr == nil && err != nil {
				t.Fatalf("Validate() unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	missing := valid
	missing.ProviderAccountID = ""
	if err := missing.Validate(); err == nil {
		t.Error("Validate() accepted params without provider account ID")
	}
}
