package lifecycle

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medpolicy/internal/audit"
	"medpolicy/internal/chain"
	"medpolicy/internal/claim"
	"medpolicy/internal/content"
	"medpolicy/internal/events"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
	"medpolicy/internal/notify"
	"medpolicy/internal/request"
	"medpolicy/internal/store"
	"medpolicy/pkg/ledger"
)

type fixture struct {
	eng    *Engine
	id     *identity.Stub
	chain  *chain.StubGateway
	audit  *audit.MemoryStore
	notes  *notify.Recorder
	issuer string
}

func newFixture(t *testing.T, check PolicyCheck) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	cs := content.NewMemory()
	id := &identity.Stub{Local: identity.NewLocal(ledger.NewLedger(ledger.NewLocalStore()), identity.NewMemoryKeystore(), cs)}
	issuer, err := id.CreateDID(context.Background(), "")
	require.NoError(t, err)
	gw := &chain.StubGateway{Hash: "0xabc123"}
	anchor := chain.NewAnchorer(gw, 100*time.Millisecond, log)
	creds := store.NewMemory[models.CredentialRecord]()
	au := audit.NewMemoryStore()
	notes := &notify.Recorder{}
	eng := New(Deps{
		Requests:    request.NewEngineImpl(store.NewMemory[models.PolicyRequest](), creds, id, anchor, nil, log),
		Claims:      claim.NewEngineImpl(store.NewMemory[models.Claim](), cs, id, nil, log),
		Identity:    id,
		Content:     cs,
		Credentials: creds,
		Anchor:      anchor,
		Audit:       au,
		Notify:      notes,
		PolicyCheck: check,
		Log:         log,
	})
	return &fixture{eng: eng, id: id, chain: gw, audit: au, notes: notes, issuer: issuer.ID}
}

func (f *fixture) approvedPolicy(t *testing.T) *models.PolicyRequest {
	t.Helper()
	ctx := context.Background()
	r, err := f.eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1000"})
	require.NoError(t, err)
	res, err := f.eng.ApproveAndIssue(ctx, &request.ApproveInput{RequestID: r.ID, IssuerDID: f.issuer})
	require.NoError(t, err)
	return res.Request
}

func insurer(claimID string) *claim.DecisionInput {
	return &claim.DecisionInput{ClaimID: claimID, InsurerDID: "did:insurer", InsurerAddress: "0xins", SigningKey: "0xkey"}
}

// 提交后拒绝，再次拒绝失败。
func TestRequest_SubmitThenReject(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	r, err := f.eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1000"})
	require.NoError(t, err)
	assert.Equal(t, models.RequestPending, r.Status)
	assert.NotEmpty(t, r.ID)

	rej, err := f.eng.RejectRequest(ctx, r.ID, "incomplete docs", "did:insurer")
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, rej.Status)
	assert.Equal(t, "incomplete docs", rej.RejectionReason)

	_, err = f.eng.RejectRequest(ctx, r.ID, "incomplete docs", "did:insurer")
	assert.ErrorIs(t, err, models.ErrAlreadyFinalized)

	trail, err := f.eng.AuditTrail(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "submit", trail[0].Action)
	assert.Equal(t, "reject", trail[1].Action)
	assert.Equal(t, "rejected", trail[1].ToStatus)
}

// 针对已批准保单理赔、批准后拒绝失败、按机构过滤。
func TestClaim_ApprovedPolicyLifecycle(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	policy := f.approvedPolicy(t)

	c, err := f.eng.SubmitClaim(ctx, &claim.SubmitInput{
		ProviderWallet: "0xP", PatientDIDOrWallet: "did:x:1", PolicyID: policy.ID, AmountWei: "500",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ClaimSubmitted, c.Status)
	assert.True(t, strings.HasPrefix(c.ClaimID, "claim-"))

	other, err := f.eng.SubmitClaim(ctx, &claim.SubmitInput{
		ProviderWallet: "0xQ", PatientDIDOrWallet: "did:x:1", PolicyID: policy.ID, AmountWei: "7",
	})
	require.NoError(t, err)

	approved, err := f.eng.ApproveClaim(ctx, insurer(c.ClaimID))
	require.NoError(t, err)
	assert.Equal(t, models.ClaimApproved, approved.Status)

	rej := insurer(c.ClaimID)
	rej.Reason = "changed my mind"
	_, err = f.eng.RejectClaim(ctx, rej)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	mine, err := f.eng.ClaimsByProvider(ctx, "0XP")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, c.ClaimID, mine[0].ClaimID)
	assert.NotEqual(t, other.ClaimID, mine[0].ClaimID)

	paid, err := f.eng.MarkClaimPaid(ctx, c.ClaimID, "did:insurer")
	require.NoError(t, err)
	assert.Equal(t, models.ClaimPaid, paid.Status)
}

func TestSubmitClaim_PolicyReference(t *testing.T) {
	ctx := context.Background()
	in := func(policyID string) *claim.SubmitInput {
		return &claim.SubmitInput{ProviderWallet: "0xP", PatientDIDOrWallet: "did:x:1", PolicyID: policyID, AmountWei: "5"}
	}

	f := newFixture(t, PolicyMustBeApproved)
	_, err := f.eng.SubmitClaim(ctx, in("no-such-policy"))
	assert.ErrorIs(t, err, models.ErrNotFound)
	pending, err := f.eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1"})
	require.NoError(t, err)
	_, err = f.eng.SubmitClaim(ctx, in(pending.ID))
	assert.ErrorIs(t, err, models.ErrInvalidState)

	f = newFixture(t, PolicyMustExist)
	pending, err = f.eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1"})
	require.NoError(t, err)
	_, err = f.eng.SubmitClaim(ctx, in(pending.ID))
	assert.NoError(t, err)

	f = newFixture(t, PolicyUnchecked)
	_, err = f.eng.SubmitClaim(ctx, in("external-policy-7"))
	assert.NoError(t, err)
}

func TestApproveAndIssue_ChainFailureStillApproved(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	f.chain.Fail = true

	r, err := f.eng.SubmitRequest(ctx, &request.SubmitInput{
		PatientDID: "did:x:1", PatientAddress: "0x1000000000000000000000000000000000000001", CoverageAmount: "1000",
	})
	require.NoError(t, err)
	res, err := f.eng.ApproveAndIssue(ctx, &request.ApproveInput{RequestID: r.ID, IssuerDID: f.issuer, Anchor: true})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, res.Request.Status)
	assert.Nil(t, res.Chain.Hash())
	assert.Equal(t, 1, f.chain.CallCount())

	trail, err := f.eng.AuditTrail(ctx, r.ID)
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, "anchor", last.Action)
	assert.Empty(t, last.TxHash)
	assert.NotEmpty(t, last.Reason)
}

func TestIssueCredential_Routing(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	r, err := f.eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1000"})
	require.NoError(t, err)
	res, err := f.eng.IssueCredential(ctx, &IssueInput{
		IssuerDID: f.issuer, SubjectDID: "did:x:1", Role: "InsurancePolicy",
		Data: map[string]any{"requestId": r.ID, "premium": "12"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Request)
	assert.Equal(t, models.RequestApproved, res.Request.Status)
	assert.Equal(t, "12", res.VC.CredentialSubject["premium"])

	rec, err := f.eng.CredentialForPolicy(ctx, r.ID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, res.CID, rec.CID)

	_, err = f.eng.IssueCredential(ctx, &IssueInput{IssuerDID: f.issuer, Data: map[string]any{"requestId": r.ID}})
	assert.ErrorIs(t, err, models.ErrAlreadyFinalized)
	_, err = f.eng.IssueCredential(ctx, &IssueInput{IssuerDID: f.issuer, Data: map[string]any{"requestId": "nope"}})
	assert.ErrorIs(t, err, models.ErrNotFound)

	none, err := f.eng.CredentialForPolicy(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestIssueGenericCredential(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.eng.IssueGenericCredential(ctx, &IssueInput{IssuerDID: f.issuer, SubjectDID: "did:x:2"})
	assert.ErrorIs(t, err, models.ErrValidation)

	subject := "did:pkh:eip155:1:0x1000000000000000000000000000000000000002"
	res, err := f.eng.IssueGenericCredential(ctx, &IssueInput{
		IssuerDID: f.issuer, SubjectDID: subject, Role: "InsurerOrganization",
		Data:   map[string]any{"name": "Acme Health", "coverageAmount": float64(2500), "id": "ignored"},
		Anchor: true,
	})
	require.NoError(t, err)
	assert.Equal(t, subject, res.VC.CredentialSubject["id"])
	assert.Equal(t, "InsurerOrganization", res.VC.CredentialSubject["role"])
	assert.Equal(t, "Acme Health", res.VC.CredentialSubject["name"])
	require.NotNil(t, res.Chain.Hash())
	assert.Equal(t, "0x1000000000000000000000000000000000000002", f.chain.Calls[0].Beneficiary)
	assert.Equal(t, "2500", f.chain.Calls[0].Coverage.String())

	f.id.Fail = true
	_, err = f.eng.IssueGenericCredential(ctx, &IssueInput{IssuerDID: f.issuer, SubjectDID: "did:x:2", Role: "R"})
	assert.ErrorIs(t, err, models.ErrUpstream)
}

func TestResolveAndVerifyDID(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.eng.ResolveAndVerifyDID(ctx, "")
	assert.ErrorIs(t, err, models.ErrValidation)

	v, err := f.eng.ResolveAndVerifyDID(ctx, "did:medpolicy:unknown")
	require.NoError(t, err)
	assert.False(t, v.Verified)
	assert.NotEmpty(t, v.Reason)

	v, err = f.eng.ResolveAndVerifyDID(ctx, f.issuer)
	require.NoError(t, err)
	assert.True(t, v.Verified)
	assert.NotNil(t, v.Document)
}

func TestIdentityByWallet(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	addr := "0x1000000000000000000000000000000000000003"

	none, err := f.eng.DIDByWallet(ctx, addr)
	require.NoError(t, err)
	assert.Nil(t, none)

	doc, err := f.eng.CreateIdentity(ctx, strings.ToUpper(addr[:2])+addr[2:])
	require.NoError(t, err)
	got, err := f.eng.DIDByWallet(ctx, addr)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, doc.ID, got.ID)
}

func TestAttachments(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	_, err := f.eng.UploadAttachment(ctx, nil)
	assert.ErrorIs(t, err, models.ErrValidation)

	id, err := f.eng.UploadAttachment(ctx, []byte("lab report"))
	require.NoError(t, err)
	again, err := f.eng.UploadAttachment(ctx, []byte("lab report"))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	data, err := f.eng.Attachment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "lab report", string(data))

	_, err = f.eng.Attachment(ctx, "not-a-cid")
	assert.ErrorIs(t, err, models.ErrValidation)
	missing, err := content.Sum([]byte("never stored"))
	require.NoError(t, err)
	_, err = f.eng.Attachment(ctx, missing)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestNotificationsAreBestEffort(t *testing.T) {
	f := newFixture(t, PolicyUnchecked)
	f.notes.Err = assert.AnError
	ctx := context.Background()

	r, err := f.eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1"})
	require.NoError(t, err)
	c, err := f.eng.SubmitClaim(ctx, &claim.SubmitInput{ProviderWallet: "0xP", PatientDIDOrWallet: "did:x:1", PolicyID: "p", AmountWei: "1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(f.notes.Notices()) == 2 }, time.Second, 5*time.Millisecond)
	ids := map[string]notify.Kind{}
	for _, n := range f.notes.Notices() {
		ids[n.ID] = n.Kind
	}
	assert.Equal(t, notify.KindPolicyRequest, ids[r.ID])
	assert.Equal(t, notify.KindClaim, ids[c.ClaimID])
}

func TestVerifyTreatment(t *testing.T) {
	f := newFixture(t, PolicyUnchecked)
	ctx := context.Background()
	c, err := f.eng.SubmitClaim(ctx, &claim.SubmitInput{ProviderWallet: "0xP", PatientDIDOrWallet: "did:x:1", PolicyID: "p", AmountWei: "1"})
	require.NoError(t, err)
	v, err := f.eng.VerifyTreatment(ctx, c.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationNotAvailable, v.Status)

	_, err = f.eng.VerifyTreatment(ctx, "claim-0")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// gatedNotifier 阻塞到 release 关闭或 ctx 取消。
type gatedNotifier struct {
	started chan struct{}
	release chan struct{}
	mu      sync.Mutex
	sent    []string
	ctxErr  error
}

func newGatedNotifier() *gatedNotifier {
	return &gatedNotifier{started: make(chan struct{}, 8), release: make(chan struct{})}
}

func (g *gatedNotifier) Notify(ctx context.Context, n *notify.Notice) error {
	g.started <- struct{}{}
	select {
	case <-g.release:
		g.mu.Lock()
		g.sent = append(g.sent, n.ID)
		g.mu.Unlock()
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		g.ctxErr = ctx.Err()
		g.mu.Unlock()
		return ctx.Err()
	}
}

func (g *gatedNotifier) Sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

func engineWithNotifier(t *testing.T, n notify.Provider) *Engine {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	return New(Deps{
		Requests: request.NewEngineImpl(store.NewMemory[models.PolicyRequest](), store.NewMemory[models.CredentialRecord](), nil, nil, nil, log),
		Notify:   n,
		Log:      log,
	})
}

func TestClose_WaitsForPendingNotice(t *testing.T) {
	g := newGatedNotifier()
	eng := engineWithNotifier(t, g)
	ctx := context.Background()

	r, err := eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1"})
	require.NoError(t, err)
	<-g.started

	closed := make(chan error, 1)
	go func() { closed <- eng.Close(ctx) }()
	select {
	case err := <-closed:
		t.Fatalf("Close returned before the notice was delivered: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(g.release)
	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Close did not return after the notice was delivered")
	}
	assert.Equal(t, []string{r.ID}, g.Sent())

	// 关闭后的提交仍成功，但不再发通知
	_, err = eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:2", PatientAddress: "0xabc", CoverageAmount: "1"})
	require.NoError(t, err)
	assert.Len(t, g.Sent(), 1)
	assert.NoError(t, eng.Close(ctx))
}

func TestClose_DeadlineCancelsPendingNotice(t *testing.T) {
	g := newGatedNotifier()
	eng := engineWithNotifier(t, g)

	_, err := eng.SubmitRequest(context.Background(), &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1"})
	require.NoError(t, err)
	<-g.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, eng.Close(ctx), context.DeadlineExceeded)
	g.mu.Lock()
	defer g.mu.Unlock()
	assert.ErrorIs(t, g.ctxErr, context.Canceled)
	assert.Empty(t, g.sent)
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(ev events.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func TestEventTypes(t *testing.T) {
	log, _ := logtest.NewNullLogger()
	evs := &eventLog{}
	eng := New(Deps{
		Requests:    request.NewEngineImpl(store.NewMemory[models.PolicyRequest](), nil, nil, nil, nil, log),
		Claims:      claim.NewEngineImpl(store.NewMemory[models.Claim](), content.NewMemory(), nil, nil, log),
		Events:      evs,
		Audit:       audit.NewMemoryStore(),
		PolicyCheck: PolicyUnchecked,
		Log:         log,
	})
	ctx := context.Background()

	r, err := eng.SubmitRequest(ctx, &request.SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1"})
	require.NoError(t, err)
	_, err = eng.RejectRequest(ctx, r.ID, "incomplete docs", "did:insurer")
	require.NoError(t, err)
	c, err := eng.SubmitClaim(ctx, &claim.SubmitInput{ProviderWallet: "0xP", PatientDIDOrWallet: "did:x:1", PolicyID: "p", AmountWei: "1"})
	require.NoError(t, err)
	_, err = eng.ApproveClaim(ctx, insurer(c.ClaimID))
	require.NoError(t, err)
	_, err = eng.MarkClaimPaid(ctx, c.ClaimID, "did:insurer")
	require.NoError(t, err)

	evs.mu.Lock()
	defer evs.mu.Unlock()
	var types []string
	for _, ev := range evs.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []string{
		"policy_request.submit", "policy_request.reject",
		"claim.submit", "claim.approve", "claim.pay",
	}, types)
	assert.Equal(t, "Paid", evs.events[4].Status)
}
