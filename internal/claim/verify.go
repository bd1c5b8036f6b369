package claim

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"

	"medpolicy/internal/identity"
	"medpolicy/internal/models"
)

func (e *EngineImpl) VerifyTreatmentCredential(ctx context.Context, c *models.Claim) (*models.TreatmentVerification, error) {
	if c == nil {
		return nil, models.Invalid("claim is required")
	}
	res := &models.TreatmentVerification{ClaimID: c.ClaimID, CID: c.TreatmentVCCID}
	if c.TreatmentVCCID == "" {
		res.Status = models.VerificationNotAvailable
		res.Reason = "no treatment credential attached"
		return res, nil
	}
	payload, err := e.content.Get(ctx, c.TreatmentVCCID)
	if err != nil {
		e.log.WithError(err).WithFields(logrus.Fields{"claim_id": c.ClaimID, "cid": c.TreatmentVCCID}).Warn("诊疗凭证读取失败")
		res.Status = models.VerificationIndeterminate
		res.Reason = "credential payload could not be loaded"
		return res, nil
	}
	token, ok := envelope(payload)
	if !ok {
		res.Status = models.VerificationIndeterminate
		res.Reason = "credential loaded but not in a verifiable format"
		return res, nil
	}
	v, err := e.identity.Verify(ctx, token)
	if errors.Is(err, identity.ErrMalformed) {
		res.Status = models.VerificationIndeterminate
		res.Reason = "credential loaded but not in a verifiable format"
		return res, nil
	}
	if err != nil {
		return nil, models.Upstream("credential verification failed", err)
	}
	res.Issuer, res.Subject, res.Reason = v.Issuer, v.Subject, v.Reason
	if v.Verified {
		res.Status = models.VerificationVerified
	} else {
		res.Status = models.VerificationNotVerified
	}
	return res, nil
}

// envelope 从载荷中取出 compact JWS：裸 JWT、JSON 字符串，或带 proof.jwt 的 VC JSON。
func envelope(payload []byte) (string, bool) {
	s := strings.TrimSpace(string(payload))
	if strings.Count(s, ".") == 2 && !strings.ContainsAny(s, " {\"") {
		return s, true
	}
	var str string
	if json.Unmarshal(payload, &str) == nil && strings.Count(str, ".") == 2 {
		return str, true
	}
	var vc struct {
		Proof *struct {
			JWT string `json:"jwt"`
		} `json:"proof"`
	}
	if json.Unmarshal(payload, &vc) == nil && vc.Proof != nil && vc.Proof.JWT != "" {
		return vc.Proof.JWT, true
	}
	return "", false
}
