package chain

// Output is one transaction output as reported by the explorer
type Output struct {
	Address string `json:"scriptpubkey_address"`
	Value   int64  `json:"value"`
}

// Input carries the spent output, when the explorer resolves it
type Input struct {
	TxID    string  `json:"txid"`
	Prevout *Output `json:"prevout"`
}

// TxStatus is the confirmation status of a transaction
type TxStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight int64  `json:"block_height,omitempty"`
	BlockHash   string `json:"block_hash,omitempty"`
	BlockTime   int64  `json:"block_time,omitempty"`
}

// Transaction is an explorer transaction, trimmed to what settlement needs
type Transaction struct {
	TxID   string   `json:"txid"`
	Vin    []Input  `json:"vin"`
	Vout   []Output `json:"vout"`
	Status TxStatus `json:"status"`
}

// AmountTo sums the outputs paying address, in smallest units
func (tx *Transaction) AmountTo(address string) int64 {
	var total int64
	for _, out := range tx.Vout {
		if out.Address == address {
			total += out.Value
		}
	}
	return total
}

// Confirmations counts the containing block itself: height - blockHeight + 1
// when confirmed, 0 otherwise. A block above the given height yields 0.
func (tx *Transaction) Confirmations(height int64) int {
	if !tx.Status.Confirmed || tx.Status.BlockHeight <= 0 {
		return 0
	}
	n := height - tx.Status.BlockHeight + 1
	if n < 0 {
		return 0
	}
	return int(n)
}

// Sender returns the address of the first resolved input, or ""
func (tx *Transaction) Sender() string {
	for _, in := range tx.Vin {
		if in.Prevout != nil && in.Prevout.Address != "" {
			return in.Prevout.Address
		}
	}
	return ""
}

// AddressStats are funded/spent totals for one address
type AddressStats struct {
	FundedTxoCount int64 `json:"funded_txo_count"`
	FundedTxoSum   int64 `json:"funded_txo_sum"`
	SpentTxoCount  int64 `json:"spent_txo_count"`
	SpentTxoSum    int64 `json:"spent_txo_sum"`
	TxCount        int64 `json:"tx_count"`
}

// AddressInfo is the explorer's summary of an address
type AddressInfo struct {
	Address      string       `json:"address"`
	ChainStats   AddressStats `json:"chain_stats"`
	MempoolStats AddressStats `json:"mempool_stats"`
}

// Balance returns confirmed and unconfirmed balances in smallest units
func (a *AddressInfo) Balance() (confirmed, unconfirmed int64) {
	confirmed = a.ChainStats.FundedTxoSum - a.ChainStats.SpentTxoSum
	unconfirmed = a.MempoolStats.FundedTxoSum - a.MempoolStats.SpentTxoSum
	return confirmed, unconfirmed
}
