// Package executor performs the pre-flight checks and the actual tool
// invocation for due scheduled transactions. It owns parameter
// validation, rate limiting, per-invocation timeouts, and retry of
// transport-level failures.
package executor

import (
	"encoding/json"

	"github.com/mr-tron/base58"

	"github.com/solagent/txsched/errors"
)

// maxAmountSOL caps any single scheduled buy, swap, or transfer.
const maxAmountSOL = 1000

// solanaAddressLen is the decoded length of a Solana public key.
const solanaAddressLen = 32

// isSolanaAddress reports whether s is base58 for a 32-byte key.
func isSolanaAddress(s string) bool {
	decoded, err := base58.Decode(s)
	return err == nil && len(decoded) == solanaAddressLen
}

// ValidateParameters checks tool parameters against the rules for the
// tool's category. It validates boundaries only; whether the mint
// exists or the balance suffices is the tool's problem at invocation
// time.
func ValidateParameters(category string, raw json.RawMessage) error {
	var params map[string]interface{}
	if err := json.Unmarshal(raw, &params); err != nil {
		return errors.NewInvalidRequestError("parameters must be a JSON object")
	}

	switch category {
	case "buy":
		return validateBuy(params)
	case "sell":
		return validateSell(params)
	case "swap":
		return validateSwap(params)
	case "transfer":
		return validateTransfer(params)
	case "futures_long":
		return validateFuturesLong(params)
	case "futures_close":
		return validateFuturesClose(params)
	}
	return errors.NewInvalidRequestError("unknown tool category: %s", category)
}

func validateBuy(params map[string]interface{}) error {
	if err := requireParams(params, "mint", "amount_sol"); err != nil {
		return err
	}
	amount, ok := numberParam(params, "amount_sol")
	if !ok || amount <= 0 {
		return errors.NewInvalidRequestError("amount_sol must be a positive number")
	}
	if amount > maxAmountSOL {
		return errors.NewInvalidRequestError("amount_sol exceeds maximum limit of 1000 SOL")
	}
	if !addressParam(params, "mint") {
		return errors.NewInvalidRequestError("invalid mint address format")
	}
	return nil
}

func validateSell(params map[string]interface{}) error {
	if err := requireParams(params, "mint", "percentage"); err != nil {
		return err
	}
	percentage, ok := numberParam(params, "percentage")
	if !ok || percentage <= 0 || percentage > 100 {
		return errors.NewInvalidRequestError("percentage must be between 0 and 100")
	}
	if !addressParam(params, "mint") {
		return errors.NewInvalidRequestError("invalid mint address format")
	}
	return nil
}

func validateSwap(params map[string]interface{}) error {
	if err := requireParams(params, "input_mint", "output_mint", "amount"); err != nil {
		return err
	}
	// Swap amounts are denominated in the input token, not SOL, so
	// no upper bound applies here.
	amount, ok := numberParam(params, "amount")
	if !ok || amount <= 0 {
		return errors.NewInvalidRequestError("amount must be a positive number")
	}
	if !addressParam(params, "input_mint") {
		return errors.NewInvalidRequestError("invalid input_mint format")
	}
	if !addressParam(params, "output_mint") {
		return errors.NewInvalidRequestError("invalid output_mint format")
	}
	return nil
}

func validateTransfer(params map[string]interface{}) error {
	if err := requireParams(params, "to_address", "amount"); err != nil {
		return err
	}
	amount, ok := numberParam(params, "amount")
	if !ok || amount <= 0 {
		return errors.NewInvalidRequestError("amount must be a positive number")
	}
	if amount > maxAmountSOL {
		return errors.NewInvalidRequestError("amount exceeds maximum limit of 1000 SOL")
	}
	if !addressParam(params, "to_address") {
		return errors.NewInvalidRequestError("invalid to_address format")
	}
	return nil
}

func validateFuturesLong(params map[string]interface{}) error {
	if err := requireParams(params, "symbol"); err != nil {
		return err
	}
	if !stringParam(params, "symbol") {
		return errors.NewInvalidRequestError("symbol must be a non-empty string")
	}
	// Notional is optional; the tool sizes the position when absent.
	if _, present := params["usd_notional"]; present {
		notional, ok := numberParam(params, "usd_notional")
		if !ok || notional <= 0 {
			return errors.NewInvalidRequestError("usd_notional must be a positive number")
		}
	}
	// Leverage is optional but bounded when present.
	if _, present := params["leverage"]; present {
		leverage, ok := numberParam(params, "leverage")
		if !ok || leverage < 1 || leverage > 20 {
			return errors.NewInvalidRequestError("leverage must be between 1 and 20")
		}
	}
	return nil
}

func validateFuturesClose(params map[string]interface{}) error {
	if err := requireParams(params, "symbol"); err != nil {
		return err
	}
	if !stringParam(params, "symbol") {
		return errors.NewInvalidRequestError("symbol must be a non-empty string")
	}
	return nil
}

func requireParams(params map[string]interface{}, keys ...string) error {
	for _, key := range keys {
		if _, ok := params[key]; !ok {
			return errors.NewInvalidRequestError("missing required parameter: %s", key)
		}
	}
	return nil
}

func numberParam(params map[string]interface{}, key string) (float64, bool) {
	v, ok := params[key].(float64)
	return v, ok
}

func stringParam(params map[string]interface{}, key string) bool {
	s, ok := params[key].(string)
	return ok && s != ""
}

func addressParam(params map[string]interface{}, key string) bool {
	s, ok := params[key].(string)
	return ok && isSolanaAddress(s)
}
