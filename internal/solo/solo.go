// Package solo implements the non-Stratum mining path: it polls a local
// node's HTTP JSON-RPC for a block template, assembles and mines a
// synthetic coinbase locally, and submits a solved block back to the
// node. It shares the algorithm and header packages with the Stratum
// path but owns its own lightweight job representation — getblocktemplate
// delivers a full transaction list, not a coinb1/coinb2/branch triple.
package solo

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcutil/base58"
	"github.com/sirupsen/logrus"
	"github.com/ybbus/jsonrpc"

	"github.com/boomstarternetwork/btcminer/internal/header"
	"github.com/boomstarternetwork/btcminer/internal/merkle"
	"github.com/boomstarternetwork/btcminer/internal/metrics"
)

// Transaction is one getblocktemplate transaction entry.
type Transaction struct {
	TxID string `json:"txid"`
	Data string `json:"data"`
}

// Template is a getblocktemplate response, trimmed to the fields this
// miner needs to assemble and mine a block.
type Template struct {
	PreviousBlockHash string        `json:"previousblockhash"`
	Bits              string        `json:"bits"`
	CurTime           uint32        `json:"curtime"`
	Height            uint32        `json:"height"`
	Version           uint32        `json:"version"`
	CoinbaseValue     uint64        `json:"coinbasevalue"`
	Transactions      []Transaction `json:"transactions"`
}

// Client polls a Bitcoin-Core-style node over HTTP JSON-RPC and mines
// block templates locally, paying a configured payout address.
type Client struct {
	rpcURL     string
	rpcUser    string
	rpcPass    string
	payAddress string
	hashFunc   func([]byte) []byte
	deadline   time.Duration
}

// Config configures a solo Client.
type Config struct {
	RPCURL     string
	RPCUser    string
	RPCPass    string
	PayAddress string
	HashFunc   func([]byte) []byte
	// Deadline bounds how long MineOnce searches one template before
	// giving up and letting the caller fetch a fresh one (the template
	// goes stale as the mempool and curtime move on).
	Deadline time.Duration
}

// New returns a solo Client ready to poll and mine.
func New(cfg Config) *Client {
	deadline := cfg.Deadline
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	return &Client{
		rpcURL:     cfg.RPCURL,
		rpcUser:    cfg.RPCUser,
		rpcPass:    cfg.RPCPass,
		payAddress: cfg.PayAddress,
		hashFunc:   cfg.HashFunc,
		deadline:   deadline,
	}
}

func (c *Client) call(method string, params ...interface{}) (*jsonrpc.RPCResponse, error) {
	client := jsonrpc.NewClientWithOpts(c.rpcURL, &jsonrpc.RPCClientOpts{
		CustomHeaders: map[string]string{
			"Authorization": "Basic " + base64.StdEncoding.EncodeToString(
				[]byte(c.rpcUser+":"+c.rpcPass)),
		},
	})

	res, err := client.Call(method, params...)
	if err != nil {
		return nil, fmt.Errorf("solo: rpc call %s: %w", method, err)
	}
	if res.Error != nil {
		return nil, fmt.Errorf("solo: rpc call %s: %s", method, res.Error.Message)
	}
	return res, nil
}

// FetchTemplate calls getblocktemplate with no parameters.
func (c *Client) FetchTemplate() (Template, error) {
	var t Template

	res, err := c.call("getblocktemplate")
	if err != nil {
		return t, err
	}
	if err := res.GetObject(&t); err != nil {
		return t, fmt.Errorf("solo: decode getblocktemplate result: %w", err)
	}
	return t, nil
}

// SubmitBlock calls submitblock with the fully serialized block hex.
func (c *Client) SubmitBlock(blockHex string) error {
	res, err := c.call("submitblock", blockHex)
	if err != nil {
		return err
	}
	if res.Result != nil {
		s, _ := res.GetString()
		return fmt.Errorf("solo: submitblock rejected: %s", s)
	}
	return nil
}

// MineResult reports the outcome of one MineOnce call.
type MineResult struct {
	Found    bool
	BlockHex string
	Hashrate float64
}

// MineOnce builds a coinbase paying c.payAddress, assembles the block
// header, and searches the nonce x extranonce space until a hit or until
// the deadline elapses; nothing else stops the search. A caller that wants
// fresh work calls MineOnce again with a newly fetched Template.
func (c *Client) MineOnce(t Template) (MineResult, error) {
	deadlineAt := time.Now().Add(c.deadline)

	targetBytes, err := decodeTargetBits(t.Bits)
	if err != nil {
		return MineResult{}, err
	}

	version := make([]byte, 4)
	binary.LittleEndian.PutUint32(version, t.Version)
	version = header.Reverse4(version)

	prevHash, err := resolvePrevHash(t.PreviousBlockHash)
	if err != nil {
		return MineResult{}, err
	}

	ntime := make([]byte, 4)
	binary.LittleEndian.PutUint32(ntime, t.CurTime)
	ntime = header.Reverse4(ntime)

	nbits, err := hex.DecodeString(t.Bits)
	if err != nil {
		return MineResult{}, fmt.Errorf("solo: decode bits: %w", err)
	}
	// getblocktemplate's "bits" is already big-endian wire order; pad to
	// 4 bytes defensively, matching the header package's fixed width.
	if len(nbits) < 4 {
		padded := make([]byte, 4)
		copy(padded[4-len(nbits):], nbits)
		nbits = padded
	}

	var hashes uint64
	start := time.Now()

	for extraNonce := uint32(0); extraNonce <= 0xffffffff; extraNonce++ {
		coinbaseHex := makeCoinbaseTx(extraNonce, c.payAddress, t.CoinbaseValue, t.Height)
		coinbaseHash := c.hashFunc(mustHexDecode(coinbaseHex))

		txids := make([][]byte, 0, len(t.Transactions)+1)
		txids = append(txids, coinbaseHash)
		for _, tx := range t.Transactions {
			txHash, err := hex.DecodeString(tx.TxID)
			if err != nil {
				return MineResult{}, fmt.Errorf("solo: decode txid: %w", err)
			}
			txids = append(txids, reverseBytes(txHash))
		}

		merkleRoot := merkle.RootFromTXIDs(txids, c.hashFunc)
		prefix := header.Prefix(version, header.ReverseWords4(prevHash), merkleRoot, ntime, nbits)

		for nonce := uint32(0); ; nonce++ {
			h := c.hashFunc(header.Build(prefix, nonce))
			hashes++

			if reachesTarget(reverseBytes(h), targetBytes) {
				blockHex := assembleBlock(prefix, nonce, coinbaseHex, t.Transactions)
				metrics.BlocksFound.Inc()
				return MineResult{Found: true, BlockHex: blockHex, Hashrate: hashrate(hashes, start)}, nil
			}

			if time.Now().After(deadlineAt) {
				return MineResult{Found: false, Hashrate: hashrate(hashes, start)}, nil
			}
			if nonce == 0xffffffff {
				break
			}
		}
	}

	return MineResult{Found: false, Hashrate: hashrate(hashes, start)}, nil
}

func hashrate(hashes uint64, since time.Time) float64 {
	elapsed := time.Since(since).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(hashes) / elapsed
}

func reachesTarget(hash, target []byte) bool {
	for i := range hash {
		switch {
		case hash[i] < target[i]:
			return true
		case hash[i] > target[i]:
			return false
		}
	}
	return true
}

func decodeTargetBits(bits string) ([]byte, error) {
	a, err := hex.DecodeString(bits)
	if err != nil {
		return nil, fmt.Errorf("solo: decode bits: %w", err)
	}
	if len(a) < 2 || len(a) > 32 || a[0] > 32 {
		return nil, fmt.Errorf("solo: invalid compact target %q", bits)
	}
	target := make([]byte, 32)
	copy(target[32-a[0]:], a[1:])
	return target, nil
}

func uintToLeHex(x uint64, width int) string {
	b := make([]byte, width)
	for i := 0; i < width; i++ {
		b[i] = byte(x >> (8 * uint(i)))
	}
	return hex.EncodeToString(b)
}

func uintToVarIntHex(x uint64) string {
	switch {
	case x < 0xfd:
		return fmt.Sprintf("%02x", x)
	case x <= 0xffff:
		return "fd" + uintToLeHex(x, 2)
	case x <= 0xffffffff:
		return "fe" + uintToLeHex(x, 4)
	default:
		return "ff" + uintToLeHex(x, 8)
	}
}

// encodeCoinbaseHeight encodes the BIP34 block-height push that must
// lead a coinbase's scriptSig.
func encodeCoinbaseHeight(n uint32) []byte {
	b := []byte{1}
	for n > 127 {
		b[0]++
		b = append(b, byte(n%256))
		n /= 256
	}
	b = append(b, byte(n))
	for len(b) < 2 {
		b = append(b, 0)
		b[0]++
	}
	return b
}

func addressToHash160(address string) (string, error) {
	decoded := base58.Decode(address)
	if len(decoded) < 5 {
		return "", fmt.Errorf("solo: address %q too short to contain a hash160", address)
	}
	full := hex.EncodeToString(decoded)
	return full[2 : len(full)-8], nil
}

func makeCoinbaseTx(extraNonce uint32, address string, value uint64, height uint32) string {
	coinbaseScript := hex.EncodeToString(encodeCoinbaseHeight(height)) + uintToLeHex(uint64(extraNonce), 4)

	hash160, err := addressToHash160(address)
	if err != nil {
		logrus.WithError(err).Error("solo: failed to derive payout script, coinbase will be unspendable")
	}
	pubkeyScript := "76a914" + hash160 + "88ac"

	tx := "01000000"
	tx += "01"
	tx += "0000000000000000000000000000000000000000000000000000000000000000"
	tx += "ffffffff"
	tx += uintToVarIntHex(uint64(len(coinbaseScript)) / 2)
	tx += coinbaseScript
	tx += "ffffffff"
	tx += "01"
	tx += uintToLeHex(value, 8)
	tx += uintToVarIntHex(uint64(len(pubkeyScript)) / 2)
	tx += pubkeyScript
	tx += "00000000"

	return tx
}

func mustHexDecode(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic("solo: internally-constructed hex failed to decode: " + err.Error())
	}
	return b
}

// resolvePrevHash decodes getblocktemplate's previousblockhash, which is
// reported in conventional (reversed) display order, and flips it to
// internal byte order — the order the header embeds. header.Prefix takes
// prevhash in Stratum wire order and applies its own ReverseWords4 (a
// per-word swap, not a full reversal), so MineOnce wraps this value in
// ReverseWords4 before passing it on, cancelling that swap.
func resolvePrevHash(hexStr string) ([]byte, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("solo: decode previousblockhash: %w", err)
	}
	return reverseBytes(b), nil
}

func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// assembleBlock serializes the final header, transaction count, and raw
// transaction data (coinbase first) into submitblock's hex format.
func assembleBlock(prefix []byte, nonce uint32, coinbaseHex string, rest []Transaction) string {
	full := header.Build(prefix, nonce)
	out := hex.EncodeToString(full)
	out += uintToVarIntHex(uint64(len(rest) + 1))
	out += coinbaseHex
	for _, tx := range rest {
		out += tx.Data
	}
	return out
}
