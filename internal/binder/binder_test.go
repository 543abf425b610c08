package binder

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zkbitcoin/committee/internal/api"
	"github.com/zkbitcoin/committee/internal/deployment"
	"github.com/zkbitcoin/committee/internal/txn"
	"github.com/zkbitcoin/committee/pkg/taproot"
)

var params = &chaincfg.RegressionNetParams

type fixture struct {
	groupKey  taproot.PublicKey
	recipient string
	binder    *Binder
}

func newFixture(t *testing.T) *fixture {
	_, groupKey, err := taproot.GenKey(rand.Reader)
	require.NoError(t, err)
	_, bob, err := taproot.GenKey(rand.Reader)
	require.NoError(t, err)
	recipient, err := txn.P2TRAddress(bob, params)
	require.NoError(t, err)
	return &fixture{groupKey: groupKey, recipient: recipient, binder: New(params, 1_000)}
}

func statelessDeployment() *deployment.Deployment {
	d := &deployment.Deployment{TxID: chainhash.Hash{0x11, 0x22}, Vout: 0, Amount: 10_000}
	d.VKHash[0] = 0x42
	return d
}

func (f *fixture) statelessRequest(d *deployment.Deployment, fee int64) *api.UseRequest {
	txidElement := TxIDElement(d.TxID)
	return &api.UseRequest{
		TxID:         d.TxID.String(),
		Vout:         d.Vout,
		Recipient:    f.recipient,
		PublicInputs: []string{FormatElement(txidElement)},
		Template: api.TransactionTemplate{
			Version: 2,
			Inputs:  []api.TxIn{{TxID: d.TxID.String(), Vout: d.Vout}},
			Outputs: []api.TxOut{{Address: f.recipient, Value: d.Amount - fee}},
			Fee:     fee,
		},
	}
}

func isMismatch(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, errors.Is(err, api.ErrBindingMismatch), err.Error())
}

func TestStateless(t *testing.T) {
	f := newFixture(t)
	d := statelessDeployment()
	require.NoError(t, f.binder.Check(d, f.statelessRequest(d, 300), f.groupKey))
	require.NoError(t, f.binder.Check(d, f.statelessRequest(d, 0), f.groupKey))
}

func TestStatelessRejects(t *testing.T) {
	f := newFixture(t)
	d := statelessDeployment()

	t.Run("txid input", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		req.PublicInputs = []string{"12345"}
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("request txid", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		req.TxID = chainhash.Hash{0x99}.String()
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("input count", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		req.PublicInputs = append(req.PublicInputs, "1")
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("fee too high", func(t *testing.T) {
		isMismatch(t, f.binder.Check(d, f.statelessRequest(d, 5_000), f.groupKey))
	})
	t.Run("declared fee differs", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		req.Template.Fee = 200
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("wrong recipient", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		other := newFixture(t)
		req.Template.Outputs[0].Address = other.recipient
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("input 0 elsewhere", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		req.Template.Inputs[0].Vout = 1
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("deployment spent twice", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		req.Template.Inputs = append(req.Template.Inputs, api.TxIn{
			TxID: d.TxID.String(), Vout: d.Vout,
			PrevOut: &api.TxOut{ScriptHex: "51", Value: 1},
		})
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("undeclared funding input", func(t *testing.T) {
		req := f.statelessRequest(d, 300)
		req.Template.Inputs = append(req.Template.Inputs, api.TxIn{TxID: chainhash.Hash{0x33}.String()})
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
}

func statefulDeployment(state string) *deployment.Deployment {
	d := statelessDeployment()
	d.State = &state
	return d
}

func (f *fixture) statefulRequest(t *testing.T, d *deployment.Deployment, amountIn, amountOut int64, stateOut string) *api.UseRequest {
	lock, err := txn.P2TRScript(f.groupKey)
	require.NoError(t, err)
	next := &deployment.Deployment{VKHash: d.VKHash, State: &stateOut}
	record, err := next.Record()
	require.NoError(t, err)

	txidElement := TxIDElement(d.TxID)
	return &api.UseRequest{
		TxID:      d.TxID.String(),
		Vout:      d.Vout,
		Recipient: f.recipient,
		PublicInputs: []string{
			FormatElement(txidElement),
			dec(amountIn), dec(amountOut),
			*d.State, stateOut,
		},
		Template: api.TransactionTemplate{
			Version: 2,
			Inputs: []api.TxIn{
				{TxID: d.TxID.String(), Vout: d.Vout},
				{TxID: chainhash.Hash{0x77}.String(), Vout: 3, PrevOut: &api.TxOut{Address: f.recipient, Value: amountIn + 500}},
			},
			Outputs: []api.TxOut{
				{Address: f.recipient, Value: amountOut},
				{ScriptHex: hex.EncodeToString(lock), Value: d.Amount + amountIn - amountOut},
				{ScriptHex: hex.EncodeToString(record), Value: 0},
			},
		},
	}
}

func dec(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestStateful(t *testing.T) {
	f := newFixture(t)
	d := statefulDeployment("5")

	bound, err := f.binder.Bind(d, f.statefulRequest(t, d, 2_000, 4_000, "6"), f.groupKey)
	require.NoError(t, err)
	in, ok := bound.Inputs.(*Stateful)
	require.True(t, ok)
	assert.Equal(t, int64(2_000), in.AmountIn)
	assert.Equal(t, int64(4_000), in.AmountOut)
	assert.Len(t, bound.Tx.TxOut, 3)
}

func TestStatefulRejects(t *testing.T) {
	f := newFixture(t)
	d := statefulDeployment("5")

	t.Run("state in", func(t *testing.T) {
		req := f.statefulRequest(t, d, 0, 1_000, "6")
		req.PublicInputs[3] = "4"
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("amount out too large", func(t *testing.T) {
		isMismatch(t, f.binder.Check(d, f.statefulRequest(t, d, 0, 10_001, "6"), f.groupKey))
	})
	t.Run("relock to someone else", func(t *testing.T) {
		req := f.statefulRequest(t, d, 0, 1_000, "6")
		req.Template.Outputs[1] = api.TxOut{Address: f.recipient, Value: 9_000}
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("state out not published", func(t *testing.T) {
		req := f.statefulRequest(t, d, 0, 1_000, "6")
		req.PublicInputs[4] = "7"
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("funding short of amount in", func(t *testing.T) {
		req := f.statefulRequest(t, d, 2_000, 1_000, "6")
		req.Template.Inputs[1].PrevOut.Value = 1_999
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("amount not in satoshi range", func(t *testing.T) {
		req := f.statefulRequest(t, d, 0, 1_000, "6")
		req.PublicInputs[1] = "2100000000000001"
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
	t.Run("missing outputs", func(t *testing.T) {
		req := f.statefulRequest(t, d, 0, 1_000, "6")
		req.Template.Outputs = req.Template.Outputs[:2]
		isMismatch(t, f.binder.Check(d, req, f.groupKey))
	})
}

func TestParseElement(t *testing.T) {
	_, err := ParseElement("-1")
	assert.Error(t, err)
	_, err = ParseElement("0x10")
	assert.Error(t, err)
	_, err = ParseElement("21888242871839275222246405745257275088548364400416034343698204186575808495617")
	assert.Error(t, err)
	e, err := ParseElement("21888242871839275222246405745257275088548364400416034343698204186575808495616")
	require.NoError(t, err)
	assert.Equal(t, "21888242871839275222246405745257275088548364400416034343698204186575808495616", FormatElement(e))
}

func TestTxIDElement(t *testing.T) {
	// display order is the reverse of the internal order
	var txid chainhash.Hash
	txid[0] = 1
	assert.Equal(t, "1", FormatElement(TxIDElement(txid)))

	txid = chainhash.Hash{}
	txid[31] = 1
	// 1 << 248 < r, so no reduction happens
	assert.Equal(t, "452312848583266388373324160190187140051835877600158453279131187530910662656", FormatElement(TxIDElement(txid)))
}
