// Package ledger implements the tamper-evident audit ledger: a hash-chained,
// append-only sequence of event blocks, each attested by a quorum of
// validator signatures.
//
// Signatures are HMAC-SHA256 over the block's content hash with per-validator
// shared secrets. This simulates multi-party attestation for a permissioned
// deployment; it does not provide real non-repudiation.
package ledger

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/openclear/permex/pkg/metrics"
)

// EventGenesis is the type of the chain's first block.
const EventGenesis = "GENESIS"

var genesisPrevHash = strings.Repeat("0", 64)

// Validator is one attesting identity.
type Validator struct {
	ID     string
	Secret string
}

// Signature is one validator's attestation over a block's content hash.
type Signature struct {
	ValidatorID string `json:"validator_id"`
	Sig         string `json:"sig"`
}

// Block is one audit event. Hash covers every field except Hash and Sigs,
// via the canonical serialization in contentHash.
type Block struct {
	Index    int64           `json:"index"`
	TS       int64           `json:"ts"` // unix milliseconds
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	PrevHash string          `json:"prev_hash"`
	Hash     string          `json:"hash"`
	Sigs     []Signature     `json:"sigs"`
}

// blockContent is the canonical hashed form of a block. Field order is fixed
// by declaration and must not change, or existing chains stop verifying.
type blockContent struct {
	Index    int64           `json:"index"`
	TS       int64           `json:"ts"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"data"`
	PrevHash string          `json:"prev_hash"`
}

// VerifyResult reports the outcome of a chain walk. When OK is false, At is
// the index of the first untrusted block and Reason the failed check.
type VerifyResult struct {
	OK     bool   `json:"ok"`
	At     int64  `json:"at,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// Ledger is the append-only chain. All methods are safe for concurrent use.
type Ledger struct {
	mu         sync.RWMutex
	chain      []Block
	validators []Validator
	quorum     int
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a ledger with its genesis block already appended.
func New(validators []Validator, quorum int, logger *zap.Logger) *Ledger {
	l := &Ledger{
		validators: validators,
		quorum:     quorum,
		logger:     logger.Named("ledger"),
		now:        time.Now,
	}
	genesis := l.buildBlock(0, EventGenesis,
		mustJSON(map[string]string{"msg": "Permissioned Tokenized Exchange Ledger"}),
		genesisPrevHash)
	l.chain = append(l.chain, genesis)
	return l
}

// Append records one event and returns the sealed block.
func (l *Ledger) Append(eventType string, payload any) (Block, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Block{}, err
	}

	l.mu.Lock()
	prev := l.chain[len(l.chain)-1]
	block := l.buildBlock(prev.Index+1, eventType, data, prev.Hash)
	l.chain = append(l.chain, block)
	l.mu.Unlock()

	metrics.BlocksAppended.WithLabelValues(eventType).Inc()
	l.logger.Debug("block appended",
		zap.Int64("index", block.Index),
		zap.String("type", eventType))
	return block, nil
}

func (l *Ledger) buildBlock(index int64, eventType string, data json.RawMessage, prevHash string) Block {
	block := Block{
		Index:    index,
		TS:       l.now().UnixMilli(),
		Type:     eventType,
		Data:     data,
		PrevHash: prevHash,
	}
	block.Hash = contentHash(block)
	block.Sigs = l.signHash(block.Hash)
	return block
}

func contentHash(b Block) string {
	raw, _ := json.Marshal(blockContent{
		Index:    b.Index,
		TS:       b.TS,
		Type:     b.Type,
		Data:     b.Data,
		PrevHash: b.PrevHash,
	})
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

func (l *Ledger) signHash(hash string) []Signature {
	sigs := make([]Signature, 0, len(l.validators))
	for _, v := range l.validators {
		sigs = append(sigs, Signature{ValidatorID: v.ID, Sig: signWith(v.Secret, hash)})
	}
	return sigs
}

func signWith(secret, hash string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(hash))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyChain walks the chain from genesis, recomputing every content hash,
// checking linkage, and re-deriving signatures. The first block failing any
// check is the chain-break point; nothing after it is trusted.
func (l *Ledger) VerifyChain() VerifyResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	byID := make(map[string]Validator, len(l.validators))
	for _, v := range l.validators {
		byID[v.ID] = v
	}

	for i := range l.chain {
		b := l.chain[i]

		if i == 0 {
			if b.PrevHash != genesisPrevHash {
				return VerifyResult{At: b.Index, Reason: "genesis prev_hash mismatch"}
			}
		} else if b.PrevHash != l.chain[i-1].Hash {
			return VerifyResult{At: b.Index, Reason: "prev_hash mismatch"}
		}

		if contentHash(b) != b.Hash {
			return VerifyResult{At: b.Index, Reason: "hash mismatch"}
		}

		valid := 0
		for _, s := range b.Sigs {
			v, ok := byID[s.ValidatorID]
			if !ok {
				continue
			}
			expected := signWith(v.Secret, b.Hash)
			if subtle.ConstantTimeCompare([]byte(expected), []byte(s.Sig)) == 1 {
				valid++
			}
		}
		if valid < l.quorum {
			return VerifyResult{At: b.Index, Reason: "insufficient validator sigs"}
		}
	}
	return VerifyResult{OK: true}
}

// Blocks returns a copy of the full chain.
func (l *Ledger) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Block, len(l.chain))
	copy(out, l.chain)
	return out
}

// Tail returns the last n blocks (the whole chain when n exceeds its length).
func (l *Ledger) Tail(n int) []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if n <= 0 || n > len(l.chain) {
		n = len(l.chain)
	}
	out := make([]Block, n)
	copy(out, l.chain[len(l.chain)-n:])
	return out
}

// Len returns the chain length including genesis.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.chain)
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}
