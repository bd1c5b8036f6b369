package request

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medpolicy/internal/chain"
	"medpolicy/internal/content"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
	"medpolicy/internal/rules"
	"medpolicy/internal/store"
	"medpolicy/pkg/ledger"
)

type fixture struct {
	eng    *EngineImpl
	id     *identity.Stub
	chain  *chain.StubGateway
	creds  *store.Memory[models.CredentialRecord, *models.CredentialRecord]
	issuer string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	id := &identity.Stub{Local: identity.NewLocal(ledger.NewLedger(ledger.NewLocalStore()), identity.NewMemoryKeystore(), content.NewMemory())}
	doc, err := id.CreateDID(context.Background(), "")
	require.NoError(t, err)
	gw := &chain.StubGateway{Hash: "0xfeed"}
	creds := store.NewMemory[models.CredentialRecord]()
	eng := NewEngineImpl(store.NewMemory[models.PolicyRequest](), creds, id, chain.NewAnchorer(gw, 200*time.Millisecond, log), nil, log)
	return &fixture{eng: eng, id: id, chain: gw, creds: creds, issuer: doc.ID}
}

func (f *fixture) submit(t *testing.T) *models.PolicyRequest {
	t.Helper()
	r, err := f.eng.Submit(context.Background(), &SubmitInput{
		PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "1000",
	})
	require.NoError(t, err)
	return r
}

func TestSubmit_Pending(t *testing.T) {
	f := newFixture(t)
	r := f.submit(t)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, models.RequestPending, r.Status)
	assert.Equal(t, "1000", r.CoverageAmount)

	got, err := f.eng.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.PatientDID, got.PatientDID)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	cases := []SubmitInput{
		{PatientAddress: "0xabc", CoverageAmount: "1"},
		{PatientDID: "did:x:1", CoverageAmount: "1"},
		{PatientDID: "did:x:1", PatientAddress: "0xabc"},
		{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "0"},
		{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "ten"},
	}
	for _, in := range cases {
		_, err := f.eng.Submit(context.Background(), &in)
		assert.ErrorIs(t, err, models.ErrValidation, "%+v", in)
	}
}

func TestList_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.submit(t)
	f.submit(t)
	a, err := f.eng.List(context.Background())
	require.NoError(t, err)
	b, err := f.eng.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, a, 2)
	assert.Equal(t, a, b)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.submit(t)

	_, err := f.eng.Reject(ctx, r.ID, " ", "did:insurer")
	assert.ErrorIs(t, err, models.ErrValidation)
	_, err = f.eng.Reject(ctx, "missing", "incomplete docs", "did:insurer")
	assert.ErrorIs(t, err, models.ErrNotFound)

	got, err := f.eng.Reject(ctx, r.ID, "incomplete docs", "did:insurer")
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, got.Status)
	assert.Equal(t, "incomplete docs", got.RejectionReason)
	assert.Equal(t, "did:insurer", got.RejectedBy)
	require.NotNil(t, got.RejectedAt)

	_, err = f.eng.Reject(ctx, r.ID, "again", "did:insurer")
	assert.ErrorIs(t, err, models.ErrAlreadyFinalized)
	_, err = f.eng.ApproveAndIssue(ctx, &ApproveInput{RequestID: r.ID, IssuerDID: f.issuer})
	assert.ErrorIs(t, err, models.ErrAlreadyFinalized)
	assert.Equal(t, 0, f.id.IssueCalls)
}

func TestReject_InsurerOptional(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.submit(t)

	got, err := f.eng.Reject(ctx, r.ID, "incomplete docs", "")
	require.NoError(t, err)
	assert.Equal(t, models.RequestRejected, got.Status)
	assert.Empty(t, got.RejectedBy)
	require.NotNil(t, got.RejectedAt)
}

func TestReject_AllowedInsurersStillApply(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: insurers
    applies_to: decision
    allowed_actors: ["did:medpolicy:insurer"]
`), 0644))
	rs, err := rules.NewEngineImpl(path)
	require.NoError(t, err)
	log, _ := logtest.NewNullLogger()
	eng := NewEngineImpl(store.NewMemory[models.PolicyRequest](), nil, nil, nil, rs, log)
	ctx := context.Background()
	r, err := eng.Submit(ctx, &SubmitInput{PatientDID: "did:x:1", PatientAddress: "0xabc", CoverageAmount: "10"})
	require.NoError(t, err)

	_, err = eng.Reject(ctx, r.ID, "incomplete docs", "")
	assert.ErrorIs(t, err, models.ErrValidation)
	got, err := eng.Reject(ctx, r.ID, "incomplete docs", "did:medpolicy:insurer")
	require.NoError(t, err)
	assert.Equal(t, "did:medpolicy:insurer", got.RejectedBy)
}

func TestApproveAndIssue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.submit(t)

	res, err := f.eng.ApproveAndIssue(ctx, &ApproveInput{
		RequestID: r.ID,
		IssuerDID: f.issuer,
		Data:      map[string]any{"premium": "10", "beneficiary": "0x1000000000000000000000000000000000000001"},
		Anchor:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, models.RequestApproved, res.Request.Status)
	assert.Equal(t, res.Issued.CID, res.Request.VCCID)
	assert.Equal(t, f.issuer, res.Request.ApprovedBy)
	assert.Equal(t, "0xfeed", res.Request.TxHash)
	require.NotNil(t, res.Chain.Hash())

	subj := res.Issued.VC.CredentialSubject
	assert.Equal(t, "did:x:1", subj["id"])
	assert.Equal(t, PolicyRole, subj["role"])
	assert.Equal(t, "1000", subj["coverageAmount"])
	assert.Equal(t, r.ID, subj["policyId"])

	require.Equal(t, 1, f.chain.CallCount())
	assert.Equal(t, "0x1000000000000000000000000000000000000001", f.chain.Calls[0].Beneficiary)
	assert.Equal(t, "1000", f.chain.Calls[0].Coverage.String())

	rec, err := f.creds.Get(ctx, res.Issued.CID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, rec.PolicyID)

	_, err = f.eng.Reject(ctx, r.ID, "late", "did:insurer")
	assert.ErrorIs(t, err, models.ErrAlreadyFinalized)
}

func TestApproveAndIssue_ChainFailureIsBestEffort(t *testing.T) {
	for name, gw := range map[string]*chain.StubGateway{
		"error":   {Fail: true},
		"timeout": {Block: true},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			log, _ := logtest.NewNullLogger()
			f.eng.anchor = chain.NewAnchorer(gw, 50*time.Millisecond, log)
			r := f.submit(t)

			res, err := f.eng.ApproveAndIssue(context.Background(), &ApproveInput{
				RequestID: r.ID, IssuerDID: f.issuer, Anchor: true,
				Data: map[string]any{"beneficiary": "0x1000000000000000000000000000000000000001"},
			})
			require.NoError(t, err)
			assert.Equal(t, models.RequestApproved, res.Request.Status)
			assert.Nil(t, res.Chain.Hash())
			assert.Error(t, res.Chain.Err)
			assert.Empty(t, res.Request.TxHash)
		})
	}
}

func TestApproveAndIssue_NoBeneficiarySkipsChain(t *testing.T) {
	f := newFixture(t)
	r := f.submit(t)
	res, err := f.eng.ApproveAndIssue(context.Background(), &ApproveInput{RequestID: r.ID, IssuerDID: f.issuer, Anchor: true})
	require.NoError(t, err)
	assert.ErrorIs(t, res.Chain.Err, chain.ErrNoBeneficiary)
	assert.Equal(t, 0, f.chain.CallCount())
}

func TestApproveAndIssue_IdentityFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.submit(t)

	f.id.Fail = true
	_, err := f.eng.ApproveAndIssue(ctx, &ApproveInput{RequestID: r.ID, IssuerDID: f.issuer, Anchor: true})
	assert.ErrorIs(t, err, models.ErrUpstream)
	got, _ := f.eng.Get(ctx, r.ID)
	assert.Equal(t, models.RequestPending, got.Status)
	assert.Equal(t, 0, f.chain.CallCount())

	f.id.Fail = false
	_, err = f.eng.ApproveAndIssue(ctx, &ApproveInput{RequestID: r.ID, IssuerDID: "did:medpolicy:stranger"})
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestConcurrentDecisions_OneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.submit(t)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, errs[i] = f.eng.Reject(ctx, r.ID, "race", "did:insurer")
			} else {
				_, errs[i] = f.eng.ApproveAndIssue(ctx, &ApproveInput{RequestID: r.ID, IssuerDID: f.issuer})
			}
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, models.ErrAlreadyFinalized)
	}
	assert.Equal(t, 1, ok)
}
