package rpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"lendhub/core/types"
	nativecommon "lendhub/native/common"
)

type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func invalidParams(format string, args ...interface{}) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

func isPaused(err error) bool {
	return errors.Is(err, nativecommon.ErrModulePaused)
}

func decodeParams(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 {
		return invalidParams("missing params")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return invalidParams("invalid params: %v", err)
	}
	return nil
}

func parseAccount(field, value string) (types.AccountID, error) {
	id, err := types.ParseAccountID(value)
	if err != nil {
		return id, invalidParams("%s: %v", field, err)
	}
	if id.IsZero() {
		return id, invalidParams("%s must not be zero", field)
	}
	return id, nil
}

func parseLoanID(field, value string) (types.LoanID, error) {
	id, err := types.ParseLoanID(value)
	if err != nil {
		return id, invalidParams("%s: %v", field, err)
	}
	return id, nil
}

// parseAmount decodes a base-10 integer string.
func parseAmount(field, value string) (*uint256.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, invalidParams("%s required", field)
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return nil, invalidParams("%s: %v", field, err)
	}
	return amount, nil
}

// parseOptionalAmount returns nil for an empty value.
func parseOptionalAmount(field, value string) (*uint256.Int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	return parseAmount(field, value)
}

func nonceBytes(n uint32) [4]byte {
	return [4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}
}

func formatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
