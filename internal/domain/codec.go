package domain

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// DefaultTokenDecimals — точность токена MNEE.
const DefaultTokenDecimals = 6

// ParseAgentID принимает либо 0x + 64 hex-символа, либо короткое имя (до 31 байта),
// которое дополняется нулями справа до 32 байт. Более длинные имена обрезаются.
func ParseAgentID(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return common.Hash{}, fmt.Errorf("empty agent id: %w", ErrInvalidInput)
	}
	if strings.HasPrefix(s, "0x") && len(s) == 2+2*common.HashLength {
		raw, err := hexutil.Decode(s)
		if err != nil {
			return common.Hash{}, fmt.Errorf("agent id %q: %w", s, ErrInvalidInput)
		}
		return common.BytesToHash(raw), nil
	}
	if len(s) > 31 {
		s = s[:31]
	}
	var id common.Hash
	copy(id[:], s)
	return id, nil
}

// ParseAddress валидирует hex-адрес аккаунта. Нулевой адрес не допускается.
func ParseAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("address %q: %w", s, ErrInvalidAddress)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero address: %w", ErrInvalidAddress)
	}
	return addr, nil
}

// ParseUnits переводит десятичную строку ("100.5") в целое число минимальных единиц.
func ParseUnits(s string, decimals uint8) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" && frac == "" {
		return nil, fmt.Errorf("amount %q: %w", s, ErrInvalidAmount)
	}
	if hasPoint && frac == "" {
		return nil, fmt.Errorf("amount %q: %w", s, ErrInvalidAmount)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals: %w", s, decimals, ErrInvalidAmount)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("amount %q: %w", s, ErrInvalidAmount)
		}
	}
	digits = strings.TrimLeft(digits, "0")
	if digits == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(digits)
	if err != nil {
		return nil, fmt.Errorf("amount %q: %w", s, ErrInvalidAmount)
	}
	return v, nil
}

// FormatUnits — обратное преобразование, без лишних нулей в дробной части.
func FormatUnits(v *uint256.Int, decimals uint8) string {
	digits := v.Dec()
	if decimals == 0 {
		return digits
	}
	d := int(decimals)
	if len(digits) <= d {
		digits = strings.Repeat("0", d-len(digits)+1) + digits
	}
	whole, frac := digits[:len(digits)-d], strings.TrimRight(digits[len(digits)-d:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
