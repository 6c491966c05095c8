// Package receipts keeps recently executed distributions so they can be
// looked up by transaction hash after the call returned.
package receipts

import (
	"github.com/ethereum/go-ethereum/common"

	"multisend/internal/multisend"
)

// Store defines the interface for receipt storage
type Store interface {
	// Get returns the receipt for txHash and true if it is still held
	Get(txHash common.Hash) (*multisend.Receipt, bool)

	// Put records a receipt under its transaction hash
	Put(receipt *multisend.Receipt)

	// Close releases any resources held by the store
	Close()
}
