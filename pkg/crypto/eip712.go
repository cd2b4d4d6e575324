package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain separates signatures across deployments and chains.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address // zero for off-chain signing
}

// MakerOrderEIP712 is the typed data a maker signs to rest an order in a grid.
type MakerOrderEIP712 struct {
	GridID        common.Hash
	Zero          bool  // true: sells token0
	BoundaryLower int32 // cell lower boundary, encoded as int24
	Amount        *big.Int
	Nonce         *big.Int
	Owner         common.Address
}

// CancelEIP712 is the typed data a maker signs to withdraw an order.
type CancelEIP712 struct {
	GridID  common.Hash
	OrderID uint64
	Nonce   *big.Int
	Owner   common.Address
}

var (
	domainType = []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	}
	makerOrderType = []apitypes.Type{
		{Name: "gridId", Type: "bytes32"},
		{Name: "zero", Type: "bool"},
		{Name: "boundaryLower", Type: "int24"},
		{Name: "amount", Type: "uint256"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
	cancelType = []apitypes.Type{
		{Name: "gridId", Type: "bytes32"},
		{Name: "orderId", Type: "uint64"},
		{Name: "nonce", Type: "uint256"},
		{Name: "owner", Type: "address"},
	}
)

type EIP712Signer struct {
	domain EIP712Domain
}

func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain is the local development domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:    "GridQuote",
		Version: "1",
		ChainID: big.NewInt(1337),
	}
}

func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

func (e *EIP712Signer) typedData(primary string, fields []apitypes.Type, msg apitypes.TypedDataMessage) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": domainType,
			primary:        fields,
		},
		PrimaryType: primary,
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: msg,
	}
}

// digest computes keccak256("\x19\x01" || domainSeparator || hashStruct(message)).
func digest(td apitypes.TypedData) ([]byte, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}
	raw := make([]byte, 0, 2+len(domainSeparator)+len(structHash))
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, domainSeparator...)
	raw = append(raw, structHash...)
	return crypto.Keccak256(raw), nil
}

func (e *EIP712Signer) makerOrderData(o *MakerOrderEIP712) apitypes.TypedData {
	return e.typedData("MakerOrder", makerOrderType, apitypes.TypedDataMessage{
		"gridId":        o.GridID.Hex(),
		"zero":          o.Zero,
		"boundaryLower": big.NewInt(int64(o.BoundaryLower)),
		"amount":        o.Amount.String(),
		"nonce":         o.Nonce.String(),
		"owner":         o.Owner.Hex(),
	})
}

func (e *EIP712Signer) cancelData(c *CancelEIP712) apitypes.TypedData {
	return e.typedData("CancelMakerOrder", cancelType, apitypes.TypedDataMessage{
		"gridId":  c.GridID.Hex(),
		"orderId": new(big.Int).SetUint64(c.OrderID).String(),
		"nonce":   c.Nonce.String(),
		"owner":   c.Owner.Hex(),
	})
}

// HashMakerOrder returns the digest a maker signs to place o.
func (e *EIP712Signer) HashMakerOrder(o *MakerOrderEIP712) ([]byte, error) {
	if o.Amount == nil || o.Nonce == nil {
		return nil, fmt.Errorf("maker order missing amount or nonce")
	}
	return digest(e.makerOrderData(o))
}

func (e *EIP712Signer) SignMakerOrder(signer *Signer, o *MakerOrderEIP712) ([]byte, error) {
	hash, err := e.HashMakerOrder(o)
	if err != nil {
		return nil, fmt.Errorf("failed to hash maker order: %w", err)
	}
	return signer.Sign(hash)
}

// VerifyMakerOrder reports whether signature was produced by o.Owner.
func (e *EIP712Signer) VerifyMakerOrder(o *MakerOrderEIP712, signature []byte) (bool, error) {
	hash, err := e.HashMakerOrder(o)
	if err != nil {
		return false, fmt.Errorf("failed to hash maker order: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == o.Owner, nil
}

func (e *EIP712Signer) HashCancel(c *CancelEIP712) ([]byte, error) {
	if c.Nonce == nil {
		return nil, fmt.Errorf("cancel missing nonce")
	}
	return digest(e.cancelData(c))
}

func (e *EIP712Signer) SignCancel(signer *Signer, c *CancelEIP712) ([]byte, error) {
	hash, err := e.HashCancel(c)
	if err != nil {
		return nil, fmt.Errorf("failed to hash cancel: %w", err)
	}
	return signer.Sign(hash)
}

func (e *EIP712Signer) VerifyCancel(c *CancelEIP712, signature []byte) (bool, error) {
	hash, err := e.HashCancel(c)
	if err != nil {
		return false, fmt.Errorf("failed to hash cancel: %w", err)
	}
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		return false, fmt.Errorf("failed to recover address: %w", err)
	}
	return recovered == c.Owner, nil
}

// MakerOrderJSON renders o in the eth_signTypedData_v4 layout wallets expect.
func (e *EIP712Signer) MakerOrderJSON(o *MakerOrderEIP712) (string, error) {
	td := e.makerOrderData(o)
	// wallets want decimal strings rather than big ints
	td.Message["boundaryLower"] = fmt.Sprintf("%d", o.BoundaryLower)
	out, err := json.MarshalIndent(td, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(out), nil
}
