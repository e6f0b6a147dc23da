package market

import "math/big"

// MaxOwnerCutPerMillion bounds the operator's sale share so the seller amount
// is always strictly positive.
const MaxOwnerCutPerMillion = 999_999

const million = 1_000_000

// SaleShare computes the operator's cut of a sale:
// floor(price * cutPerMillion / 1_000_000). Integer division truncates toward
// zero, so share + (price - share) == price exactly for every valid cut.
func SaleShare(price *big.Int, cutPerMillion uint64) *big.Int {
	if price == nil || cutPerMillion == 0 {
		return new(big.Int)
	}
	share := new(big.Int).Mul(price, new(big.Int).SetUint64(cutPerMillion))
	return share.Quo(share, big.NewInt(million))
}

// SellerProceeds returns the amount forwarded to the seller after the
// operator's share is withheld.
func SellerProceeds(price *big.Int, cutPerMillion uint64) *big.Int {
	if price == nil {
		return new(big.Int)
	}
	return new(big.Int).Sub(price, SaleShare(price, cutPerMillion))
}
