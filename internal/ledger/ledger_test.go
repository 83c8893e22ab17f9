package ledger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testValidators() []Validator {
	return []Validator{
		{ID: "v1", Secret: "validator_secret_1"},
		{ID: "v2", Secret: "validator_secret_2"},
		{ID: "v3", Secret: "validator_secret_3"},
	}
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	return New(testValidators(), 2, zap.NewNop())
}

func TestGenesis(t *testing.T) {
	l := newTestLedger(t)
	require.Equal(t, 1, l.Len())

	genesis := l.Blocks()[0]
	assert.Equal(t, int64(0), genesis.Index)
	assert.Equal(t, EventGenesis, genesis.Type)
	assert.Equal(t, strings.Repeat("0", 64), genesis.PrevHash)
	assert.Len(t, genesis.Sigs, 3)
}

func TestAppendLinksBlocks(t *testing.T) {
	l := newTestLedger(t)

	b1, err := l.Append("ORDER_PLACED", map[string]string{"orderId": "o-1"})
	require.NoError(t, err)
	b2, err := l.Append("TRADE_MATCHED", map[string]string{"tradeId": "t-1"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), b1.Index)
	assert.Equal(t, int64(2), b2.Index)
	assert.Equal(t, b1.Hash, b2.PrevHash)
}

func TestVerifyChainRoundTrip(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 25; i++ {
		_, err := l.Append("ORDER_PLACED", map[string]int{"seq": i})
		require.NoError(t, err)
	}
	res := l.VerifyChain()
	assert.True(t, res.OK)
}

func TestVerifyChainDetectsDataTampering(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 5; i++ {
		_, err := l.Append("ORDER_PLACED", map[string]int{"seq": i})
		require.NoError(t, err)
	}

	l.chain[3].Data = []byte(`{"seq":999}`)

	res := l.VerifyChain()
	require.False(t, res.OK)
	assert.Equal(t, int64(3), res.At)
	assert.Equal(t, "hash mismatch", res.Reason)
}

func TestVerifyChainDetectsTypeTampering(t *testing.T) {
	l := newTestLedger(t)
	_, err := l.Append("ORDER_PLACED", nil)
	require.NoError(t, err)
	_, err = l.Append("ORDER_CANCELED", nil)
	require.NoError(t, err)

	l.chain[2].Type = "ORDER_FILLED"

	res := l.VerifyChain()
	require.False(t, res.OK)
	assert.Equal(t, int64(2), res.At)
}

func TestVerifyChainDetectsBrokenLinkage(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 4; i++ {
		_, err := l.Append("MINT", map[string]int{"qty": i})
		require.NoError(t, err)
	}

	// Re-seal block 2 with modified data so its own hash verifies but the
	// link from block 3 does not.
	l.chain[2].Data = []byte(`{"qty":42}`)
	l.chain[2].Hash = contentHash(l.chain[2])
	l.chain[2].Sigs = l.signHash(l.chain[2].Hash)

	res := l.VerifyChain()
	require.False(t, res.OK)
	assert.Equal(t, int64(3), res.At)
	assert.Equal(t, "prev_hash mismatch", res.Reason)
}

func TestVerifyChainRequiresQuorum(t *testing.T) {
	l := newTestLedger(t)
	b, err := l.Append("USD_CREDIT", map[string]int{"amount": 100})
	require.NoError(t, err)

	// One forged and one dropped signature leaves a single valid one,
	// below the quorum of two.
	l.chain[b.Index].Sigs = []Signature{
		l.chain[b.Index].Sigs[0],
		{ValidatorID: "v2", Sig: strings.Repeat("ab", 32)},
	}

	res := l.VerifyChain()
	require.False(t, res.OK)
	assert.Equal(t, b.Index, res.At)
	assert.Equal(t, "insufficient validator sigs", res.Reason)
}

func TestVerifyChainIgnoresUnknownValidators(t *testing.T) {
	l := newTestLedger(t)
	b, err := l.Append("MINT", nil)
	require.NoError(t, err)

	// An extra signature from an unknown validator does not count toward
	// quorum but does not break verification either.
	l.chain[b.Index].Sigs = append(l.chain[b.Index].Sigs,
		Signature{ValidatorID: "rogue", Sig: signWith("rogue_secret", b.Hash)})

	res := l.VerifyChain()
	assert.True(t, res.OK)
}

func TestTail(t *testing.T) {
	l := newTestLedger(t)
	for i := 0; i < 10; i++ {
		_, err := l.Append("ORDER_PLACED", map[string]int{"seq": i})
		require.NoError(t, err)
	}

	tail := l.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, int64(8), tail[0].Index)
	assert.Equal(t, int64(10), tail[2].Index)

	assert.Len(t, l.Tail(100), 11)
	assert.Len(t, l.Tail(0), 11)
}
