package charity

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// PackManualTransfer encodes manualTransferToSafe(amount).
func PackManualTransfer(amount *big.Int) ([]byte, error) {
	data, err := ABI.Pack("manualTransferToSafe", amount)
	if err != nil {
		return nil, fmt.Errorf("pack manualTransferToSafe: %w", err)
	}
	return data, nil
}

// PackUpdateSafe encodes updateSafe(newSafe).
func PackUpdateSafe(newSafe common.Address) ([]byte, error) {
	data, err := ABI.Pack("updateSafe", newSafe)
	if err != nil {
		return nil, fmt.Errorf("pack updateSafe: %w", err)
	}
	return data, nil
}
