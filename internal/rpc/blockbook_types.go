package rpc

// Blockbook v2 REST response shapes. Numeric amounts come back as satoshi
// strings and are converted to coin units by the node layer.

type AddressInfo struct {
	Address            string   `json:"address"`
	Balance            string   `json:"balance"`
	UnconfirmedBalance string   `json:"unconfirmedBalance"`
	TotalReceived      string   `json:"totalReceived"`
	TotalSent          string   `json:"totalSent"`
	Txs                int      `json:"txs"`
	TxIDs              []string `json:"txids,omitempty"`
	Transactions       []Tx     `json:"transactions,omitempty"`
}

type AddressUTXO struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Value         string `json:"value"`
	Height        int64  `json:"height,omitempty"`
	Confirmations int64  `json:"confirmations"`
	ScriptPubKey  string `json:"scriptPubKey,omitempty"`
}

type Tx struct {
	TxID          string  `json:"txid"`
	BlockHash     string  `json:"blockHash,omitempty"`
	BlockHeight   int64   `json:"blockHeight"`
	Confirmations int64   `json:"confirmations"`
	BlockTime     int64   `json:"blockTime"`
	Value         string  `json:"value"`
	ValueIn       string  `json:"valueIn,omitempty"`
	Fees          string  `json:"fees,omitempty"`
	Vin           []TxVin `json:"vin,omitempty"`
	Vout          []TxOut `json:"vout,omitempty"`
}

type TxVin struct {
	TxID      string   `json:"txid,omitempty"`
	Vout      uint32   `json:"vout,omitempty"`
	N         uint32   `json:"n"`
	Addresses []string `json:"addresses,omitempty"`
	Value     string   `json:"value,omitempty"`
}

type TxOut struct {
	Value     string   `json:"value"`
	N         uint32   `json:"n"`
	Addresses []string `json:"addresses,omitempty"`
	Hex       string   `json:"hex,omitempty"`
}

type Status struct {
	Blockbook struct {
		Coin       string `json:"coin"`
		BestHeight int64  `json:"bestHeight"`
		InSync     bool   `json:"inSync"`
	} `json:"blockbook"`
	Backend struct {
		Chain  string `json:"chain"`
		Blocks int64  `json:"blocks"`
	} `json:"backend"`
}

type BlockInfo struct {
	Hash          string `json:"hash"`
	Height        int64  `json:"height"`
	Confirmations int64  `json:"confirmations"`
	TxCount       int    `json:"txCount"`
	Time          int64  `json:"time"`
	Txs           []Tx   `json:"txs,omitempty"`
}

// sendTxResult wraps the two shapes Blockbook uses for /sendtx responses.
type sendTxResult struct {
	Result string `json:"result"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error"`
}
