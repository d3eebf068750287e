package gates

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/trustchain/pkg/certification"
	"github.com/Mindburn-Labs/trustchain/pkg/conform"
	"github.com/Mindburn-Labs/trustchain/pkg/fault"
)

// G5Certified checks the producer's certification flag and, when Required,
// that certificate.jwt binds the candidate's Merkle root to the baseline.
type G5Certified struct {
	Required  bool
	Certifier *certification.Certifier
}

func (g *G5Certified) ID() conform.GateID { return conform.G5 }
func (g *G5Certified) Name() string       { return "Certified" }

func (g *G5Certified) Run(_ context.Context, gc *conform.GateContext) (conform.GateResult, error) {
	rb, err := resolveBaseline(gc)
	if err != nil {
		return conform.GateResult{}, err
	}
	_, cand, err := packs(gc)
	if err != nil {
		return conform.GateResult{}, err
	}

	if !cand.Report.Certified {
		return conform.Fail(g.ID(), "candidate report is not marked certified", conform.ReasonNotCertified), nil
	}
	if !g.Required {
		return conform.Pass(g.ID(), "certified by producer"), nil
	}
	if g.Certifier == nil {
		return conform.GateResult{}, fault.New(fault.KindUsage, "CERT_SECRET_MISSING", "certificate required but no certification secret configured")
	}

	version := gc.BaselineVersion
	if rb.Entry != nil {
		version = rb.Entry.Version
	}
	if version == "" {
		return conform.Fail(g.ID(), "no baseline version to bind the certificate to", conform.ReasonCertificateInvalid), nil
	}

	token, err := certification.ReadCertificate(cand.Dir)
	if errors.Is(err, certification.ErrNoCertificate) {
		return conform.Fail(g.ID(), "no "+certification.CertificateFile+" in candidate", conform.ReasonCertificateMissing), nil
	}
	if err != nil {
		return conform.GateResult{}, err
	}

	claims, err := g.Certifier.Verify(token, certification.Subject{
		RunID:           cand.Report.RunID,
		MerkleRoot:      cand.Tree.RootHash,
		ManifestHash:    cand.Manifest.Hash,
		BaselineVersion: version,
	})
	if err != nil {
		return conform.Fail(g.ID(), err.Error(), conform.ReasonCertificateInvalid), nil
	}
	res := conform.Pass(g.ID(), "certificate verified against baseline "+version)
	res.Details = map[string]any{"issuer": claims.Issuer, "subject": claims.Subject}
	return res, nil
}
