package crank

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/chrono-crank/internal/rpc"
	"github.com/tonimelisma/chrono-crank/internal/solana"
	"github.com/tonimelisma/chrono-crank/internal/vault"
)

func newTestExecutor(t *testing.T, c *fakeChain) (*ChainExecutor, solana.Pubkey) {
	t.Helper()

	kp, err := solana.NewKeypair()
	require.NoError(t, err)

	return NewChainExecutor(&ExecutorConfig{
		Client:        c,
		Signer:        kp,
		ProgramID:     testProgram,
		ConfigAddress: testConfig,
		Logger:        testLogger(t),
	}), kp.PublicKey()
}

func TestExecute_InitializeCreatesTracker(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putVault(c, pk(1), 2, 0)

	x, payer := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), &Action{Kind: ActionInitialize, Vault: pk(1), Epoch: testEpoch})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	require.Len(t, res.Signatures, 1)

	addr, err := vault.TrackerAddress(testProgram, pk(1), testEpoch)
	require.NoError(t, err)

	tr := c.tracker(t, addr)
	require.NotNil(t, tr)
	assert.Equal(t, pk(1), tr.Vault)
	assert.Equal(t, uint64(testEpoch), tr.NcnEpoch)

	require.Len(t, c.sent, 1)
	assert.Equal(t, payer, c.sent[0].Message.AccountKeys[0], "signer pays fees")
	assert.Equal(t, res.Signatures[0], solana.TransactionID(c.sent[0]))
}

func TestExecute_InitializeAlreadyExists(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putVault(c, pk(1), 2, 0)

	addr, err := vault.TrackerAddress(testProgram, pk(1), testEpoch)
	require.NoError(t, err)
	putTracker(c, addr, pk(1), testEpoch, 0)

	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), &Action{Kind: ActionInitialize, Vault: pk(1), Epoch: testEpoch})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, res.Outcome)
	assert.Empty(t, c.sent)
}

func crankAction(tracker solana.Pubkey, startAt uint64, ds ...OperatorDelegation) *Action {
	return &Action{
		Kind:        ActionCrank,
		Vault:       pk(1),
		Epoch:       testEpoch,
		Tracker:     tracker,
		Delegations: ds,
		StartAt:     startAt,
	}
}

func TestExecute_CrankAppliesRemainingInOrder(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putTracker(c, pk(50), pk(1), testEpoch, 1)

	ds := []OperatorDelegation{
		{Address: pk(12), Operator: pk(22), Index: 2},
		{Address: pk(10), Operator: pk(20), Index: 0},
		{Address: pk(11), Operator: pk(21), Index: 1},
	}

	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), crankAction(pk(50), 1, ds...))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Len(t, res.Signatures, 2)

	assert.Equal(t, []solana.Pubkey{pk(10), pk(11)}, c.crankOrder)
	assert.Equal(t, uint64(3), c.tracker(t, pk(50)).LastUpdatedIndex)
}

func TestExecute_CrankResumesFromLiveProgress(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putTracker(c, pk(50), pk(1), testEpoch, 2)

	ds := []OperatorDelegation{
		{Address: pk(10), Index: 0},
		{Address: pk(11), Index: 1},
		{Address: pk(12), Index: 2},
	}

	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), crankAction(pk(50), 0, ds...))
	require.NoError(t, err)
	assert.Len(t, res.Signatures, 1)
	assert.Equal(t, []solana.Pubkey{pk(12)}, c.crankOrder)
}

func TestExecute_CrankNothingLeft(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putTracker(c, pk(50), pk(1), testEpoch, 2)

	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), crankAction(pk(50), 0,
		OperatorDelegation{Address: pk(10)}, OperatorDelegation{Address: pk(11), Index: 1}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, res.Outcome)
	assert.Empty(t, c.sent)
}

func TestExecute_CrankTrackerGone(t *testing.T) {
	c := newFakeChain(testEpochLength)
	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), crankAction(pk(50), 0, OperatorDelegation{Address: pk(10)}))
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, res.Outcome)
}

func TestExecute_CrankStopsAtFirstFailure(t *testing.T) {
	boom := errors.New("blockhash expired")

	c := newFakeChain(testEpochLength)
	putTracker(c, pk(50), pk(1), testEpoch, 0)
	c.sendErr = func(n int) error {
		if n == 2 {
			return boom
		}

		return nil
	}

	ds := []OperatorDelegation{
		{Address: pk(10), Index: 0},
		{Address: pk(11), Index: 1},
		{Address: pk(12), Index: 2},
	}

	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), crankAction(pk(50), 0, ds...))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Len(t, res.Signatures, 1, "first step landed")
	assert.Equal(t, []solana.Pubkey{pk(10)}, c.crankOrder)
	assert.Equal(t, uint64(1), c.tracker(t, pk(50)).LastUpdatedIndex)
}

func TestExecute_CloseRemovesTracker(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putTracker(c, pk(50), pk(1), testEpoch-1, 0)

	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), &Action{Kind: ActionClose, Vault: pk(1), Epoch: testEpoch - 1, Tracker: pk(50)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Nil(t, c.tracker(t, pk(50)))

	require.Len(t, c.sent, 1)
	data := c.sent[0].Message.Instructions[0].Data
	assert.Equal(t, vault.TagCloseUpdateStateTracker, data[0])
	assert.Equal(t, byte(testEpoch-1), data[1], "ncn_epoch little-endian")
}

func TestExecute_CloseAlreadyClosed(t *testing.T) {
	c := newFakeChain(testEpochLength)
	x, _ := newTestExecutor(t, c)

	res, err := x.Execute(t.Context(), &Action{Kind: ActionClose, Vault: pk(1), Epoch: testEpoch, Tracker: pk(50)})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyDone, res.Outcome)
	assert.Empty(t, c.sent)
}

func TestExecute_ConfirmFailure(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putTracker(c, pk(50), pk(1), testEpoch, 0)
	c.confirmErr = rpc.ErrConfirmTimeout

	x, _ := newTestExecutor(t, c)

	_, err := x.Execute(t.Context(), &Action{Kind: ActionClose, Vault: pk(1), Epoch: testEpoch, Tracker: pk(50)})
	assert.ErrorIs(t, err, rpc.ErrConfirmTimeout)
}

func TestExecute_UndecodableTracker(t *testing.T) {
	c := newFakeChain(testEpochLength)
	c.put(pk(50), []byte{byte(vault.DiscriminatorVault), 0, 0, 0, 0, 0, 0, 0})

	x, _ := newTestExecutor(t, c)

	_, err := x.Execute(t.Context(), &Action{Kind: ActionClose, Vault: pk(1), Epoch: testEpoch, Tracker: pk(50)})

	var de *DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, pk(50), de.Account)
}

// The engine, executor and snapshot provider together walk a vault through
// a whole epoch: initialize, crank every delegation, close.
func TestLifecycle_EndToEnd(t *testing.T) {
	c := newFakeChain(testEpochLength)
	putVault(c, pk(1), 3, (testEpoch-1)*testEpochLength)

	for i := range uint64(3) {
		addr, err := vault.DelegationAddress(testProgram, pk(1), pk(byte(20+i)))
		require.NoError(t, err)
		putDelegation(c, addr, pk(1), pk(byte(20+i)), i)
	}

	x, _ := newTestExecutor(t, c)
	e := NewEngine(&EngineConfig{
		Provider: newTestProvider(t, c),
		Executor: x,
		Logger:   testLogger(t),
	})

	var kinds []ActionKind

	for range 3 {
		report, err := e.RunOnce(t.Context(), RunOpts{})
		require.NoError(t, err)
		require.Equal(t, 1, report.Succeeded)
		kinds = append(kinds, report.Outcomes[0].Action.Kind)

		// The program marks the vault fully updated when the tracker closes.
		if report.Outcomes[0].Action.Kind == ActionClose {
			putVault(c, pk(1), 3, c.slot)
		}
	}

	assert.Equal(t, []ActionKind{ActionInitialize, ActionCrank, ActionClose}, kinds)

	// epoch 10 mod 3 operators starts the walk at index 1.
	require.Len(t, c.crankOrder, 3)

	first, err := vault.DelegationAddress(testProgram, pk(1), pk(21))
	require.NoError(t, err)
	assert.Equal(t, first, c.crankOrder[0])

	report, err := e.RunOnce(t.Context(), RunOpts{})
	require.NoError(t, err)
	assert.Zero(t, report.Planned)
	assert.Equal(t, 1, report.States[StateUpToDate])
}
