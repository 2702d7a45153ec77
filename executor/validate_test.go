package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solagent/txsched/errors"
)

const (
	validMint    = "So11111111111111111111111111111111111111112"
	validAddress = "7xKXtg2CW87d97TXJSDpbD5jBkheTqA83TZRuJosgAsU"
)

func TestValidateParameters(t *testing.T) {
	tests := []struct {
		name     string
		category string
		params   string
		wantMsg  string // empty means valid
	}{
		{"buy valid", "buy", `{"mint":"` + validMint + `","amount_sol":1.5}`, ""},
		{"buy missing mint", "buy", `{"amount_sol":1.5}`, "missing required parameter: mint"},
		{"buy missing amount", "buy", `{"mint":"` + validMint + `"}`, "missing required parameter: amount_sol"},
		{"buy zero amount", "buy", `{"mint":"` + validMint + `","amount_sol":0}`, "amount_sol must be a positive number"},
		{"buy negative amount", "buy", `{"mint":"` + validMint + `","amount_sol":-1}`, "amount_sol must be a positive number"},
		{"buy string amount", "buy", `{"mint":"` + validMint + `","amount_sol":"1.5"}`, "amount_sol must be a positive number"},
		{"buy over limit", "buy", `{"mint":"` + validMint + `","amount_sol":1001}`, "amount_sol exceeds maximum limit of 1000 SOL"},
		{"buy at limit", "buy", `{"mint":"` + validMint + `","amount_sol":1000}`, ""},
		{"buy bad mint", "buy", `{"mint":"not-a-mint","amount_sol":1}`, "invalid mint address format"},

		{"sell valid", "sell", `{"mint":"` + validMint + `","percentage":50}`, ""},
		{"sell full position", "sell", `{"mint":"` + validMint + `","percentage":100}`, ""},
		{"sell zero percentage", "sell", `{"mint":"` + validMint + `","percentage":0}`, "percentage must be between 0 and 100"},
		{"sell over hundred", "sell", `{"mint":"` + validMint + `","percentage":101}`, "percentage must be between 0 and 100"},
		{"sell bad mint", "sell", `{"mint":"xx","percentage":50}`, "invalid mint address format"},

		{"swap valid", "swap", `{"input_mint":"` + validMint + `","output_mint":"` + validAddress + `","amount":10}`, ""},
		{"swap missing output", "swap", `{"input_mint":"` + validMint + `","amount":10}`, "missing required parameter: output_mint"},
		{"swap bad amount", "swap", `{"input_mint":"` + validMint + `","output_mint":"` + validAddress + `","amount":-5}`, "amount must be a positive number"},
		{"swap large token amount allowed", "swap", `{"input_mint":"` + validMint + `","output_mint":"` + validAddress + `","amount":5000}`, ""},
		{"swap bad input mint", "swap", `{"input_mint":"bad","output_mint":"` + validAddress + `","amount":10}`, "invalid input_mint format"},
		{"swap bad output mint", "swap", `{"input_mint":"` + validMint + `","output_mint":"bad","amount":10}`, "invalid output_mint format"},

		{"transfer valid", "transfer", `{"to_address":"` + validAddress + `","amount":0.1}`, ""},
		{"transfer missing address", "transfer", `{"amount":0.1}`, "missing required parameter: to_address"},
		{"transfer bad amount", "transfer", `{"to_address":"` + validAddress + `","amount":0}`, "amount must be a positive number"},
		{"transfer over limit", "transfer", `{"to_address":"` + validAddress + `","amount":1000.5}`, "amount exceeds maximum limit of 1000 SOL"},
		{"transfer bad address", "transfer", `{"to_address":"0x1234","amount":1}`, "invalid to_address format"},

		{"futures long valid", "futures_long", `{"symbol":"SOLUSDT","usd_notional":500}`, ""},
		{"futures long symbol only", "futures_long", `{"symbol":"SOLUSDT"}`, ""},
		{"futures long with leverage", "futures_long", `{"symbol":"SOLUSDT","usd_notional":500,"leverage":10}`, ""},
		{"futures long empty symbol", "futures_long", `{"symbol":"","usd_notional":500}`, "symbol must be a non-empty string"},
		{"futures long bad notional", "futures_long", `{"symbol":"SOLUSDT","usd_notional":0}`, "usd_notional must be a positive number"},
		{"futures long leverage low", "futures_long", `{"symbol":"SOLUSDT","usd_notional":500,"leverage":0}`, "leverage must be between 1 and 20"},
		{"futures long leverage high", "futures_long", `{"symbol":"SOLUSDT","usd_notional":500,"leverage":21}`, "leverage must be between 1 and 20"},

		{"futures close valid", "futures_close", `{"symbol":"SOLUSDT"}`, ""},
		{"futures close missing symbol", "futures_close", `{}`, "missing required parameter: symbol"},
		{"futures close numeric symbol", "futures_close", `{"symbol":42}`, "symbol must be a non-empty string"},

		{"unknown category", "unknown", `{}`, "unknown tool category"},
		{"not an object", "buy", `[1,2,3]`, "parameters must be a JSON object"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateParameters(tt.category, []byte(tt.params))
			if tt.wantMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsInvalidRequestError(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestIsSolanaAddress(t *testing.T) {
	// Validity means the string decodes to a 32-byte key, not that it
	// has a particular length: the wrapped-SOL mint is 43 characters.
	assert.True(t, isSolanaAddress(validMint))
	assert.True(t, isSolanaAddress(validAddress))

	// Right length, wrong alphabet (l and 0 are not base58).
	assert.False(t, isSolanaAddress("l0000000000000000000000000000000000000000000"))
	assert.False(t, isSolanaAddress("tooshort"))
	assert.False(t, isSolanaAddress(""))
}
