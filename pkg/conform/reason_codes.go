package conform

// Reason codes are stable identifiers attached to FAIL results.
// They must not change between releases.
const (
	ReasonGateNotRegistered = "GATE_NOT_REGISTERED"

	// --- G0 baseline ---
	ReasonBaselineNotFound    = "BASELINE_NOT_FOUND"
	ReasonBaselineDirMissing  = "BASELINE_DIR_MISSING"
	ReasonCandidateDirMissing = "CANDIDATE_DIR_MISSING"

	// --- G1 manifest / artifacts ---
	ReasonManifestHashMismatch = "MANIFEST_HASH_MISMATCH"
	ReasonArtifactHashMismatch = "ARTIFACT_HASH_MISMATCH"

	// --- G2 merkle ---
	ReasonMerkleRootMismatch = "MERKLE_ROOT_MISMATCH"
	ReasonLeafCountMismatch  = "LEAF_COUNT_MISMATCH"

	// --- G3 replay ---
	ReasonSeedMismatch         = "SEED_MISMATCH"
	ReasonReplayHashDivergence = "REPLAY_HASH_DIVERGENCE"

	// --- G4 thresholds ---
	ReasonMetricMissing       = "METRIC_MISSING"
	ReasonMetricBelowMin      = "METRIC_BELOW_MIN"
	ReasonMetricAboveMax      = "METRIC_ABOVE_MAX"
	ReasonExpressionFalse     = "THRESHOLD_EXPRESSION_FALSE"
	ReasonExpressionMalformed = "THRESHOLD_EXPRESSION_MALFORMED"

	// --- G5 certification ---
	ReasonNotCertified       = "NOT_CERTIFIED"
	ReasonCertificateMissing = "CERTIFICATE_MISSING"
	ReasonCertificateInvalid = "CERTIFICATE_INVALID"
)
