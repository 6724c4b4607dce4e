package k8swait

import (
	"context"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
)

// ApplyCRD server-side-applies the given CustomResourceDefinition and waits
// until the API server reports it Established, at which point custom
// resources of that kind can be created. A zero timeout means the session's
// apply-crd timeout.
//
// Note that CRDs are cluster-scoped; a CRD applied by one session is
// visible to all, and Teardown does not remove it.
func ApplyCRD(ctx context.Context, s *Session, crd *apiextensionsv1.CustomResourceDefinition, timeout time.Duration) (*apiextensionsv1.CustomResourceDefinition, error) {
	if _, err := Apply[apiextensionsv1.CustomResourceDefinition](ctx, s, crd); err != nil {
		return nil, err
	}
	return VerifyStatus[apiextensionsv1.CustomResourceDefinition](
		ctx, s, crd.Name, CRDEstablished, timeoutOr(timeout, s.timeouts.ApplyCRD),
	)
}

// CRDEstablished reports whether the CRD's Established condition is True.
func CRDEstablished(crd *apiextensionsv1.CustomResourceDefinition) bool {
	for _, c := range crd.Status.Conditions {
		if c.Type == apiextensionsv1.Established {
			return c.Status == apiextensionsv1.ConditionTrue
		}
	}
	return false
}
