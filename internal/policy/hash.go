package policy

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Fingerprint — ключ дубликата: keccak256(recipient[20] ‖ amount[32 BE] ‖ keccak256(reason)).
func Fingerprint(recipient common.Address, amount *uint256.Int, reason string) common.Hash {
	amt := amount.Bytes32()
	reasonHash := crypto.Keccak256([]byte(reason))
	return crypto.Keccak256Hash(recipient.Bytes(), amt[:], reasonHash)
}

// PaymentID — keccak256(agentId[32] ‖ recipient[20] ‖ amount[32] ‖ timestamp[8] ‖ seq[8]).
// seq — порядковый номер записи в журнале агента, поэтому id уникален даже в пределах секунды.
func PaymentID(agentID common.Hash, recipient common.Address, amount *uint256.Int, timestamp int64, seq uint64) common.Hash {
	amt := amount.Bytes32()
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(timestamp))
	binary.BigEndian.PutUint64(tail[8:], seq)
	return crypto.Keccak256Hash(agentID.Bytes(), recipient.Bytes(), amt[:], tail[:])
}
