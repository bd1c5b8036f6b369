package claim

import (
	"context"
	"strings"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medpolicy/internal/content"
	"medpolicy/internal/identity"
	"medpolicy/internal/models"
	"medpolicy/internal/store"
	"medpolicy/pkg/ledger"
)

type fixture struct {
	eng *EngineImpl
	id  *identity.Stub
	cs  *content.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := logtest.NewNullLogger()
	cs := content.NewMemory()
	id := &identity.Stub{Local: identity.NewLocal(ledger.NewLedger(ledger.NewLocalStore()), identity.NewMemoryKeystore(), cs)}
	return &fixture{eng: NewEngineImpl(store.NewMemory[models.Claim](), cs, id, nil, log), id: id, cs: cs}
}

func (f *fixture) submit(t *testing.T, provider string) *models.Claim {
	t.Helper()
	c, err := f.eng.Submit(context.Background(), &SubmitInput{
		ProviderWallet: provider, PatientDIDOrWallet: "did:x:1", PolicyID: "policy-1", AmountWei: "500",
	})
	require.NoError(t, err)
	return c
}

func decision(id string) *DecisionInput {
	return &DecisionInput{ClaimID: id, InsurerDID: "did:insurer", InsurerAddress: "0xINS", SigningKey: "0xkey"}
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	c := f.submit(t, "0xP")
	assert.True(t, strings.HasPrefix(c.ClaimID, "claim-"))
	assert.Equal(t, models.ClaimSubmitted, c.Status)
	assert.Equal(t, "0xp", c.ProviderWallet)
	assert.Equal(t, "500", c.AmountWei)
	assert.Equal(t, []string{}, c.FileCIDs)

	got, err := f.eng.Get(context.Background(), c.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, c.ClaimID, got.ClaimID)
}

func TestSubmit_Validation(t *testing.T) {
	f := newFixture(t)
	base := SubmitInput{ProviderWallet: "0xP", PatientDIDOrWallet: "did:x:1", PolicyID: "p", AmountWei: "1"}
	mutate := []func(*SubmitInput){
		func(in *SubmitInput) { in.ProviderWallet = "" },
		func(in *SubmitInput) { in.PatientDIDOrWallet = "" },
		func(in *SubmitInput) { in.PolicyID = "" },
		func(in *SubmitInput) { in.AmountWei = "" },
		func(in *SubmitInput) { in.AmountWei = "0" },
		func(in *SubmitInput) { in.AmountWei = "-3" },
	}
	for i, m := range mutate {
		in := base
		m(&in)
		_, err := f.eng.Submit(context.Background(), &in)
		assert.ErrorIs(t, err, models.ErrValidation, "case %d", i)
	}
}

func TestListByProvider_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	mine := f.submit(t, "0xP")
	f.submit(t, "0xOther")

	for _, w := range []string{"0xP", "0xp", " 0XP "} {
		got, err := f.eng.ListByProvider(context.Background(), w)
		require.NoError(t, err)
		require.Len(t, got, 1, w)
		assert.Equal(t, mine.ClaimID, got[0].ClaimID)
	}
	all, err := f.eng.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestApproveThenPaid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.submit(t, "0xP")

	got, err := f.eng.Approve(ctx, decision(c.ClaimID))
	require.NoError(t, err)
	assert.Equal(t, models.ClaimApproved, got.Status)
	assert.Equal(t, "did:insurer", got.ApprovedBy)
	assert.Equal(t, "0xins", got.InsurerAddress)
	require.NotNil(t, got.ApprovedAt)

	rej := decision(c.ClaimID)
	rej.Reason = "too late"
	_, err = f.eng.Reject(ctx, rej)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	paid, err := f.eng.MarkPaid(ctx, c.ClaimID, "did:insurer")
	require.NoError(t, err)
	assert.Equal(t, models.ClaimPaid, paid.Status)
	assert.Equal(t, "did:insurer", paid.PaidBy)

	_, err = f.eng.MarkPaid(ctx, c.ClaimID, "did:insurer")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = f.eng.Approve(ctx, decision(c.ClaimID))
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestRejectIsTerminal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.submit(t, "0xP")

	in := decision(c.ClaimID)
	_, err := f.eng.Reject(ctx, in)
	assert.ErrorIs(t, err, models.ErrValidation, "reason is required")

	in.Reason = "not covered"
	got, err := f.eng.Reject(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.ClaimRejected, got.Status)
	assert.Equal(t, "not covered", got.RejectionReason)

	_, err = f.eng.MarkPaid(ctx, c.ClaimID, "did:insurer")
	assert.ErrorIs(t, err, models.ErrInvalidState)
	_, err = f.eng.Approve(ctx, decision(c.ClaimID))
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestDecision_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.submit(t, "0xP")

	missingKey := decision(c.ClaimID)
	missingKey.SigningKey = ""
	_, err := f.eng.Approve(ctx, missingKey)
	assert.ErrorIs(t, err, models.ErrValidation)

	_, err = f.eng.Approve(ctx, decision("claim-missing"))
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.eng.MarkPaid(ctx, c.ClaimID, "did:insurer")
	assert.ErrorIs(t, err, models.ErrInvalidState, "Submitted cannot be paid")
}

func TestConcurrentApproveReject_OneWins(t *testing.T) {
	f := newFixture(t)
	c := f.submit(t, "0xP")
	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := decision(c.ClaimID)
			if i%2 == 0 {
				in.Reason = "race"
				_, errs[i] = f.eng.Reject(context.Background(), in)
			} else {
				_, errs[i] = f.eng.Approve(context.Background(), in)
			}
		}(i)
	}
	wg.Wait()
	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, models.ErrInvalidState)
		}
	}
	assert.Equal(t, 1, ok)
}

func TestVerifyTreatmentCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("not available", func(t *testing.T) {
		res, err := f.eng.VerifyTreatmentCredential(ctx, &models.Claim{ClaimID: "c1"})
		require.NoError(t, err)
		assert.Equal(t, models.VerificationNotAvailable, res.Status)
		assert.Equal(t, 0, f.id.VerifyCalls)
	})

	issuer, err := f.id.CreateDID(ctx, "")
	require.NoError(t, err)
	issued, err := f.id.Issue(ctx, issuer.ID, &identity.Credential{
		CredentialSubject: map[string]any{"id": "did:x:1", "role": "Treatment"},
	})
	require.NoError(t, err)

	t.Run("verified", func(t *testing.T) {
		res, err := f.eng.VerifyTreatmentCredential(ctx, &models.Claim{ClaimID: "c2", TreatmentVCCID: issued.CID})
		require.NoError(t, err)
		assert.Equal(t, models.VerificationVerified, res.Status)
		assert.Equal(t, issuer.ID, res.Issuer)
		assert.Equal(t, "did:x:1", res.Subject)
	})

	t.Run("tampered", func(t *testing.T) {
		parts := strings.Split(issued.JWT, ".")
		sig := []byte(parts[2])
		if sig[0] == 'A' {
			sig[0] = 'B'
		} else {
			sig[0] = 'A'
		}
		bad := parts[0] + "." + parts[1] + "." + string(sig)
		id, err := f.cs.Put(ctx, []byte(bad))
		require.NoError(t, err)
		res, err := f.eng.VerifyTreatmentCredential(ctx, &models.Claim{ClaimID: "c3", TreatmentVCCID: id})
		require.NoError(t, err)
		assert.Equal(t, models.VerificationNotVerified, res.Status)
	})

	t.Run("not an envelope", func(t *testing.T) {
		id, err := f.cs.Put(ctx, []byte(`{"credentialSubject":{"id":"did:x:1"}}`))
		require.NoError(t, err)
		res, err := f.eng.VerifyTreatmentCredential(ctx, &models.Claim{ClaimID: "c4", TreatmentVCCID: id})
		require.NoError(t, err)
		assert.Equal(t, models.VerificationIndeterminate, res.Status)
	})

	t.Run("gateway failure", func(t *testing.T) {
		f.id.Fail = true
		defer func() { f.id.Fail = false }()
		_, err := f.eng.VerifyTreatmentCredential(ctx, &models.Claim{ClaimID: "c5", TreatmentVCCID: issued.CID})
		assert.ErrorIs(t, err, models.ErrUpstream)
	})
}
