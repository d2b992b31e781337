// Package accounts loads the accounts file into one canonical schema.
//
// Older accounts files in the wild use several spellings for the same
// field (dmat/user/username, pin/transactionPin, kitta/quantity...).
// Alias resolution happens exactly once, here, at load time. Nothing
// past this package ever sees an alias.
package accounts

import (
	"fmt"
	"os"
	"regexp"
	"strconv"

	"github.com/titanous/json5"
)

// Account is one credential/target set. Immutable once loaded.
type Account struct {
	Username string
	Password string
	// DP is the depository participant shown in the login institution
	// dropdown, e.g. a bank or broker name.
	DP string
	// TargetItem overrides the file-level default offering name.
	TargetItem string
	Quantity   int64
	CRN        string
	PIN        string
	Bank       string
}

type file struct {
	// DefaultTarget applies to every account without its own target.
	DefaultTarget string           `json:"target"`
	Accounts      []map[string]any `json:"accounts"`
}

var pinPattern = regexp.MustCompile(`^\d{4}$`)

// Load reads and normalizes an accounts file, returning accounts in file
// order. Any unresolvable or invalid field fails the whole load, a typo
// in one account should be fixed rather than silently skipped.
func Load(path string) ([]Account, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f file
	err = json5.Unmarshal(raw, &f)
	if err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}
	if len(f.Accounts) == 0 {
		return nil, fmt.Errorf("accounts file %q lists no accounts", path)
	}

	out := make([]Account, len(f.Accounts))
	for i, entry := range f.Accounts {
		acct, err := normalize(entry, f.DefaultTarget)
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i+1, err)
		}
		out[i] = acct
	}
	return out, nil
}

func normalize(entry map[string]any, defaultTarget string) (Account, error) {
	acct := Account{
		Username:   stringField(entry, "username", "user", "dmat", "boid"),
		Password:   stringField(entry, "password", "pass"),
		DP:         stringField(entry, "dp", "depository", "bankName"),
		TargetItem: stringField(entry, "target", "targetItem", "scrip", "company"),
		CRN:        stringField(entry, "crn", "crnNumber"),
		PIN:        stringField(entry, "pin", "transactionPin", "transactionPIN"),
		Bank:       stringField(entry, "bank", "bankAccount"),
	}
	if acct.TargetItem == "" {
		acct.TargetItem = defaultTarget
	}

	qty, err := intField(entry, "quantity", "kitta", "appliedKitta")
	if err != nil {
		return Account{}, err
	}
	acct.Quantity = qty

	return acct, validate(acct)
}

func validate(acct Account) error {
	if acct.Username == "" {
		return fmt.Errorf("missing username")
	}
	if acct.Password == "" {
		return fmt.Errorf("missing password for %q", acct.Username)
	}
	if acct.DP == "" {
		return fmt.Errorf("missing depository participant for %q", acct.Username)
	}
	if acct.TargetItem == "" {
		return fmt.Errorf("no target offering for %q and no file-level default", acct.Username)
	}
	if acct.Quantity <= 0 {
		return fmt.Errorf("quantity must be positive for %q", acct.Username)
	}
	if acct.CRN == "" {
		return fmt.Errorf("missing crn for %q", acct.Username)
	}
	if !pinPattern.MatchString(acct.PIN) {
		return fmt.Errorf("pin for %q must be exactly 4 digits", acct.Username)
	}
	return nil
}

func stringField(entry map[string]any, names ...string) string {
	for _, name := range names {
		v, ok := entry[name]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			if s != "" {
				return s
			}
		case float64:
			// numeric ids pasted without quotes
			return strconv.FormatInt(int64(s), 10)
		}
	}
	return ""
}

func intField(entry map[string]any, names ...string) (int64, error) {
	for _, name := range names {
		v, ok := entry[name]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int64(n), nil
		case string:
			parsed, err := strconv.ParseInt(n, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("field %q is not a number: %q", name, n)
			}
			return parsed, nil
		}
	}
	return 0, nil
}
