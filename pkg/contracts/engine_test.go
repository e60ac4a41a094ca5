package contracts

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxis-systems/aegis/pkg/crypto"
	"github.com/praxis-systems/aegis/pkg/ledger"
)

func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	store, err := OpenStore("sqlite://:memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewEngine(store, opts...)
}

func twoPartyRequest() CreateRequest {
	return CreateRequest{
		Title:       "Care coordination agreement",
		Description: "PHI exchange between provider and patient",
		Clauses: []Clause{
			{Title: "Scope", Content: "Treatment records only", Type: "hipaa"},
		},
		Parties: []Party{
			{ID: "p1", Type: "provider"},
			{ID: "p2", Type: "patient"},
		},
		IsHIPAACompliant: true,
	}
}

func signRequest(t *testing.T, c *Contract, signerID, signerType string) SignRequest {
	t.Helper()
	pub, priv, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	message, err := c.SigningMessage(signerID, signerType)
	require.NoError(t, err)
	sig, err := crypto.Sign(priv, message)
	require.NoError(t, err)
	return SignRequest{
		SignerID:   signerID,
		SignerType: signerType,
		Signature:  sig,
		PublicKey:  pub,
	}
}

func TestContractLifecycle(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	assert.Equal(t, StateDraft, c.State)
	assert.NotEmpty(t, c.Clauses[0].ID)

	c, err = engine.Propose(ctx, c.ID, ProposeRequest{
		ProposedTo: []string{"p2"}, Message: "please review",
	}, "p1")
	require.NoError(t, err)
	assert.Equal(t, StateProposed, c.State)
	require.NotNil(t, c.ProposedAt)
	proposal := c.Metadata["proposal"].(map[string]interface{})
	assert.Equal(t, "p1", proposal["proposed_by"])

	c, err = engine.Sign(ctx, c.ID, signRequest(t, c, "p1", "provider"))
	require.NoError(t, err)
	assert.Equal(t, StateProposed, c.State)
	assert.Len(t, c.Signatures, 1)
	assert.Nil(t, c.SignedAt)

	c, err = engine.Sign(ctx, c.ID, signRequest(t, c, "p2", "patient"))
	require.NoError(t, err)
	assert.Equal(t, StateSigned, c.State)
	require.NotNil(t, c.SignedAt)
	assert.True(t, c.IsFullySigned())

	c, err = engine.Revoke(ctx, c.ID, RevokeRequest{
		Reason: "terms violated", RevokedBy: "p1",
	})
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, c.State)
	require.NotNil(t, c.RevokedAt)
	revocation := c.Metadata["revocation"].(map[string]interface{})
	assert.Equal(t, "terms violated", revocation["reason"])

	// Terminal: nothing further is allowed.
	_, err = engine.Propose(ctx, c.ID, ProposeRequest{}, "p1")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = engine.Revoke(ctx, c.ID, RevokeRequest{RevokedBy: "p1"})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	req := twoPartyRequest()
	req.Title = ""
	_, err := engine.Create(ctx, req, "p1")
	assert.ErrorIs(t, err, ErrInvalidContract)

	req = twoPartyRequest()
	req.Parties = nil
	_, err = engine.Create(ctx, req, "p1")
	assert.ErrorIs(t, err, ErrInvalidContract)

	req = twoPartyRequest()
	req.Parties = append(req.Parties, Party{ID: "p1", Type: "provider"})
	_, err = engine.Create(ctx, req, "p1")
	assert.ErrorIs(t, err, ErrInvalidContract)
}

func TestSignRejectsDraft(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)

	_, err = engine.Sign(ctx, c.ID, signRequest(t, c, "p1", "provider"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSignRejectsDuplicateSigner(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	c, err = engine.Propose(ctx, c.ID, ProposeRequest{ProposedTo: []string{"p2"}}, "p1")
	require.NoError(t, err)

	_, err = engine.Sign(ctx, c.ID, signRequest(t, c, "p1", "provider"))
	require.NoError(t, err)
	_, err = engine.Sign(ctx, c.ID, signRequest(t, c, "p1", "provider"))
	assert.ErrorIs(t, err, ErrAlreadySigned)
}

func TestSignRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	c, err = engine.Propose(ctx, c.ID, ProposeRequest{}, "p1")
	require.NoError(t, err)

	req := signRequest(t, c, "p1", "provider")
	req.Signature = req.Signature[:len(req.Signature)-4] + "AAA="
	_, err = engine.Sign(ctx, c.ID, req)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// Signing message binds the signer: a signature made for p1 cannot be
	// submitted as p2.
	req = signRequest(t, c, "p1", "provider")
	req.SignerID = "p2"
	_, err = engine.Sign(ctx, c.ID, req)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestNonPartySignatureStoredButNotCounted(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	c, err = engine.Propose(ctx, c.ID, ProposeRequest{}, "p1")
	require.NoError(t, err)

	c, err = engine.Sign(ctx, c.ID, signRequest(t, c, "witness", "observer"))
	require.NoError(t, err)
	assert.Len(t, c.Signatures, 1)
	assert.Equal(t, StateProposed, c.State)
	assert.False(t, c.IsFullySigned())
}

func TestConcurrentSignaturesBothLand(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	c, err = engine.Propose(ctx, c.ID, ProposeRequest{}, "p1")
	require.NoError(t, err)

	reqs := []SignRequest{
		signRequest(t, c, "p1", "provider"),
		signRequest(t, c, "p2", "patient"),
	}

	var wg sync.WaitGroup
	errs := make([]error, len(reqs))
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req SignRequest) {
			defer wg.Done()
			_, errs[i] = engine.Sign(ctx, c.ID, req)
		}(i, req)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	final, err := engine.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, final.Signatures, 2)
	assert.Equal(t, StateSigned, final.State)
}

func TestListAndByParty(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	first, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	req := twoPartyRequest()
	req.Parties = []Party{{ID: "p3", Type: "provider"}}
	_, err = engine.Create(ctx, req, "p3")
	require.NoError(t, err)
	_, err = engine.Propose(ctx, first.ID, ProposeRequest{}, "p1")
	require.NoError(t, err)

	proposed := StateProposed
	list, err := engine.List(ctx, &proposed, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	list, err = engine.List(ctx, nil, "p3")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	list, err = engine.ByParty(ctx, "p2")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, first.ID, list[0].ID)

	_, err = engine.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	past := time.Now().UTC().Add(-time.Hour)
	req := twoPartyRequest()
	req.ExpiresAt = &past
	expired, err := engine.Create(ctx, req, "p1")
	require.NoError(t, err)

	_, err = engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)

	count, err := engine.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	c, err := engine.Get(ctx, expired.ID)
	require.NoError(t, err)
	assert.Equal(t, StateExpired, c.State)

	// Idempotent on the second run.
	count, err = engine.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func holdsLock(e *Engine, id uuid.UUID) bool {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	_, ok := e.locks[id]
	return ok
}

func TestLockEvictedOnTerminalState(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	_, err = engine.Propose(ctx, c.ID, ProposeRequest{ProposedTo: []string{"p2"}}, "p1")
	require.NoError(t, err)
	assert.True(t, holdsLock(engine, c.ID))

	_, err = engine.Revoke(ctx, c.ID, RevokeRequest{Reason: "done", RevokedBy: "p1"})
	require.NoError(t, err)
	assert.False(t, holdsLock(engine, c.ID))

	past := time.Now().UTC().Add(-time.Hour)
	req := twoPartyRequest()
	req.ExpiresAt = &past
	overdue, err := engine.Create(ctx, req, "p1")
	require.NoError(t, err)

	count, err := engine.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.False(t, holdsLock(engine, overdue.ID))
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	engine := newTestEngine(t)

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	c, err = engine.Propose(ctx, c.ID, ProposeRequest{}, "p1")
	require.NoError(t, err)
	_, err = engine.Sign(ctx, c.ID, signRequest(t, c, "p1", "provider"))
	require.NoError(t, err)
	c, err = engine.Get(ctx, c.ID)
	require.NoError(t, err)
	_, err = engine.Sign(ctx, c.ID, signRequest(t, c, "p2", "patient"))
	require.NoError(t, err)

	plain := twoPartyRequest()
	plain.IsHIPAACompliant = false
	_, err = engine.Create(ctx, plain, "p1")
	require.NoError(t, err)

	stats, err := engine.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalContracts)
	assert.Equal(t, 1, stats.ByState[StateSigned])
	assert.Equal(t, 1, stats.ByState[StateDraft])
	assert.Equal(t, 1, stats.HIPAACompliant)
	assert.Equal(t, 1, stats.SignedContracts)
}

func TestContractActionsHitLedger(t *testing.T) {
	ctx := context.Background()
	ledgerStore, err := ledger.Open("sqlite://:memory:")
	require.NoError(t, err)
	defer ledgerStore.Close()

	engine := newTestEngine(t, WithLedger(ledgerStore))

	c, err := engine.Create(ctx, twoPartyRequest(), "p1")
	require.NoError(t, err)
	_, err = engine.Propose(ctx, c.ID, ProposeRequest{}, "p1")
	require.NoError(t, err)

	stats, err := ledgerStore.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.TotalEntries)

	entry, err := ledgerStore.GetEntry(ctx, 1)
	require.NoError(t, err)
	assert.Contains(t, entry.EventData, `"event_type":"contract_action"`)
	assert.Contains(t, entry.EventData, c.ID.String())
}
