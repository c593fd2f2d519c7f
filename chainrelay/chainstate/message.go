package chainstate

// Transaction is the on-wire shape this system reads from and writes to a
// node. EVM chains populate the nonce/gasPrice/gasLimit/signature fields;
// substrate-like chains populate only ExtrinsicBlob.
type Transaction struct {
	Nonce     uint64 `json:"nonce"`
	GasPrice  string `json:"gasPrice"`
	GasLimit  string `json:"gasLimit"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Data      string `json:"data"`
	R         string `json:"r,omitempty"`
	S         string `json:"s,omitempty"`
	V         string `json:"v,omitempty"`
	ChainID   string `json:"chainId,omitempty"`

	ExtrinsicBlob string `json:"extrinsicBlob,omitempty"`

	Hash        string `json:"hash"`
	From        string `json:"from"`
	BlockNumber uint64 `json:"blockNumber"`
}

// WhiteflagPrefix is the two-byte marker ("WF") that begins every on-chain
// Whiteflag transaction payload, as a 0x-prefixed hex string.
const WhiteflagPrefix = "0x5746"

// MetaHeader is the canonical-form envelope C7 attaches to every decoded
// Whiteflag message.
type MetaHeader struct {
	Blockchain        string `json:"blockchain"`
	BlockNumber       uint64 `json:"blockNumber"`
	TransactionHash   string `json:"transactionHash"`
	TransactionTime   string `json:"transactionTime,omitempty"`
	OriginatorAddress string `json:"originatorAddress"`
	OriginatorPubKey  string `json:"originatorPubKey"`
	EncodedMessage    string `json:"encodedMessage"`
}

// WfMessage is the short-lived in-core representation of a decoded
// Whiteflag transaction, emitted on the receive bus and not retained.
type WfMessage struct {
	MetaHeader MetaHeader
	// MessageHeader and MessageBody are protocol-defined and opaque to the
	// core; message-schema metadata lookup is an external collaborator.
	MessageHeader map[string]interface{}
	MessageBody   map[string]interface{}
}

// WfSignPayload is the payload signed during authentication.
type WfSignPayload struct {
	Addr      string `json:"addr"`
	OrgName   string `json:"orgname,omitempty"`
	URL       string `json:"url,omitempty"`
	ExtPubKey string `json:"extpubkey,omitempty"`
	IAT       *int64 `json:"iat,omitempty"`
}

// ToMap renders the payload as the generic map the JWS engine signs.
func (p WfSignPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{"addr": p.Addr}
	if p.OrgName != "" {
		m["orgname"] = p.OrgName
	}
	if p.URL != "" {
		m["url"] = p.URL
	}
	if p.ExtPubKey != "" {
		m["extpubkey"] = p.ExtPubKey
	}
	return m
}
