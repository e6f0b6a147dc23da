package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Selectors are derived from the canonical signatures at init so they cannot
// drift from the packed call data.
var (
	selSupportsInterface = selector("supportsInterface(bytes4)")
	selOwnerOf           = selector("ownerOf(uint256)")
	selGetApproved       = selector("getApproved(uint256)")
	selIsApprovedForAll  = selector("isApprovedForAll(address,address)")
	selTransferFrom      = selector("transferFrom(address,address,uint256)")
	selVerifyFingerprint = selector("verifyFingerprint(uint256,bytes)")
	selBalanceOf         = selector("balanceOf(address)")
	selAllowance         = selector("allowance(address,address)")
)

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func wordAddress(addr common.Address) []byte {
	return common.LeftPadBytes(addr.Bytes(), 32)
}

func wordUint(v *big.Int) []byte {
	if v == nil {
		v = new(big.Int)
	}
	return common.LeftPadBytes(v.Bytes(), 32)
}

func wordBytes4(id [4]byte) []byte {
	return common.RightPadBytes(id[:], 32)
}

func packCall(sel []byte, words ...[]byte) []byte {
	out := make([]byte, 0, 4+32*len(words))
	out = append(out, sel...)
	for _, word := range words {
		out = append(out, word...)
	}
	return out
}

// packCallWithBytes appends one dynamic bytes argument after the static words.
func packCallWithBytes(sel []byte, dynamic []byte, words ...[]byte) []byte {
	out := packCall(sel, words...)
	offset := big.NewInt(int64(32 * (len(words) + 1)))
	out = append(out, wordUint(offset)...)
	out = append(out, wordUint(big.NewInt(int64(len(dynamic))))...)
	out = append(out, common.RightPadBytes(dynamic, (len(dynamic)+31)/32*32)...)
	return out
}

// transferReturnedFalse reports whether an ERC20 transfer result decodes to an
// explicit boolean false. Tokens that return no data are taken at their word.
func transferReturnedFalse(ret []byte) bool {
	if len(ret) < 32 {
		return false
	}
	ok, err := unpackBool(ret)
	return err == nil && !ok
}

func unpackBool(ret []byte) (bool, error) {
	if len(ret) < 32 {
		return false, fmt.Errorf("short bool return: %d bytes", len(ret))
	}
	return ret[31] != 0, nil
}

func unpackAddress(ret []byte) (common.Address, error) {
	if len(ret) < 32 {
		return common.Address{}, fmt.Errorf("short address return: %d bytes", len(ret))
	}
	return common.BytesToAddress(ret[12:32]), nil
}

func unpackUint(ret []byte) (*big.Int, error) {
	if len(ret) < 32 {
		return nil, fmt.Errorf("short uint return: %d bytes", len(ret))
	}
	return new(big.Int).SetBytes(ret[:32]), nil
}
