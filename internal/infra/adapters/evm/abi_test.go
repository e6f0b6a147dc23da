package evm

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSelectorsMatchKnownValues(t *testing.T) {
	cases := []struct {
		name string
		sel  []byte
		want string
	}{
		{"supportsInterface", selSupportsInterface, "01ffc9a7"},
		{"ownerOf", selOwnerOf, "6352211e"},
		{"getApproved", selGetApproved, "081812fc"},
		{"isApprovedForAll", selIsApprovedForAll, "e985e9c5"},
		{"transferFrom", selTransferFrom, "23b872dd"},
		{"balanceOf", selBalanceOf, "70a08231"},
		{"allowance", selAllowance, "dd62ed3e"},
	}
	for _, tc := range cases {
		if got := hex.EncodeToString(tc.sel); got != tc.want {
			t.Fatalf("%s selector = %s, want %s", tc.name, got, tc.want)
		}
	}
}

func TestPackCall(t *testing.T) {
	from := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	data := packCall(selTransferFrom, wordAddress(from), wordAddress(to), wordUint(big.NewInt(7)))

	if len(data) != 4+3*32 {
		t.Fatalf("unexpected call data length %d", len(data))
	}
	if !bytes.Equal(data[:4], selTransferFrom) {
		t.Fatalf("selector mismatch")
	}
	if got := common.BytesToAddress(data[4+12 : 4+32]); got != from {
		t.Fatalf("from word mismatch: %s", got.Hex())
	}
	if got := new(big.Int).SetBytes(data[4+64 : 4+96]); got.Int64() != 7 {
		t.Fatalf("asset word mismatch: %s", got)
	}
}

func TestPackCallWithBytes(t *testing.T) {
	fingerprint := []byte{0x01, 0x02, 0x03}
	data := packCallWithBytes(selVerifyFingerprint, fingerprint, wordUint(big.NewInt(9)))

	// selector + assetID word + offset word + length word + one padded data word
	if len(data) != 4+4*32 {
		t.Fatalf("unexpected call data length %d", len(data))
	}
	offset := new(big.Int).SetBytes(data[4+32 : 4+64])
	if offset.Int64() != 64 {
		t.Fatalf("offset = %s, want 64", offset)
	}
	length := new(big.Int).SetBytes(data[4+64 : 4+96])
	if length.Int64() != int64(len(fingerprint)) {
		t.Fatalf("length = %s, want %d", length, len(fingerprint))
	}
	if !bytes.Equal(data[4+96:4+99], fingerprint) {
		t.Fatalf("fingerprint bytes mismatch")
	}
}

func TestTransferReturnedFalse(t *testing.T) {
	cases := []struct {
		name string
		ret  []byte
		want bool
	}{
		{"no return data", nil, false},
		{"short return", []byte{0x01}, false},
		{"true word", common.LeftPadBytes([]byte{0x01}, 32), false},
		{"false word", make([]byte, 32), true},
	}
	for _, tc := range cases {
		if got := transferReturnedFalse(tc.ret); got != tc.want {
			t.Fatalf("%s: transferReturnedFalse = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestUnpackHelpers(t *testing.T) {
	if _, err := unpackBool([]byte{0x01}); err == nil {
		t.Fatalf("expected error for short bool return")
	}
	ok, err := unpackBool(common.LeftPadBytes([]byte{0x01}, 32))
	if err != nil || !ok {
		t.Fatalf("unpackBool = %v, %v", ok, err)
	}

	addr := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	got, err := unpackAddress(wordAddress(addr))
	if err != nil || got != addr {
		t.Fatalf("unpackAddress = %s, %v", got.Hex(), err)
	}

	value, err := unpackUint(wordUint(big.NewInt(123456)))
	if err != nil || value.Int64() != 123456 {
		t.Fatalf("unpackUint = %s, %v", value, err)
	}
}
