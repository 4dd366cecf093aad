// Package domain defines the core types and interfaces for the sharescan
// portfolio reconstruction engine. Infrastructure packages (chain provider,
// Redis cache, Postgres archive, S3 blob storage) implement the interfaces
// declared here.
package domain

import (
	"math/big"
	"strings"
)

// TokenKey identifies one tradeable player-share token: the ERC-1155
// contract that minted it plus its decimal token id. Contract addresses are
// lower-cased on construction so the key is safe to use for map lookups and
// comparisons regardless of the checksum casing a provider returns.
type TokenKey struct {
	Contract string
	TokenID  string
}

// NewTokenKey builds a TokenKey from a contract address (any casing) and a
// token id.
func NewTokenKey(contract string, tokenID *big.Int) TokenKey {
	return TokenKey{
		Contract: strings.ToLower(contract),
		TokenID:  tokenID.String(),
	}
}

// String renders the key as "contract:tokenId".
func (k TokenKey) String() string {
	return k.Contract + ":" + k.TokenID
}

// TokenIDInt parses the decimal token id back into a big.Int.
func (k TokenKey) TokenIDInt() *big.Int {
	n, _ := new(big.Int).SetString(k.TokenID, 10)
	return n
}

// SharesWad is the fixed-point scale for share amounts (18 decimals).
var SharesWad = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// TokenMetadata holds display-only token information resolved from a token
// URI. It never affects financial computation.
type TokenMetadata struct {
	Name     string `json:"name"`
	Image    string `json:"image,omitempty"`
	Position string `json:"position,omitempty"`
	Club     string `json:"club,omitempty"`
}
