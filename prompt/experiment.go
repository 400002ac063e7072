package prompt

import (
	"crypto/sha256"
	"fmt"
)

// ResolveExperiment deterministically buckets subject into treatment or
// control for exp, per §4.1: hash "{experimentName}:{subject}" with
// SHA-256, take the first 16 bits as a big-endian uint16, reduce modulo
// 100; strictly less than TreatmentPercent assigns treatment. A forced
// variant on exp overrides bucketing entirely.
//
// Returns the version to serve and whether the subject landed in
// treatment; callers ignore the version when assigned is false.
func ResolveExperiment(exp *Experiment, subject string) (version int, assigned bool) {
	switch exp.ForcedVariant {
	case "treatment":
		return exp.TreatmentVersion, true
	case "control":
		return 0, false
	}

	bucket := bucketOf(exp.Name, subject)
	if bucket < exp.TreatmentPercent {
		return exp.TreatmentVersion, true
	}
	return 0, false
}

// bucketOf returns a deterministic value in [0,100) for the given
// experiment name and subject.
func bucketOf(experimentName, subject string) int {
	key := fmt.Sprintf("%s:%s", experimentName, subject)
	sum := sha256.Sum256([]byte(key))
	first16 := uint16(sum[0])<<8 | uint16(sum[1])
	return int(first16) % 100
}
