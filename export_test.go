package k8swait

import (
	"k8s.io/apimachinery/pkg/api/meta"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
)

// NewSessionForTesting wires a Session from fake clients and a static REST
// mapper, bypassing the rest.Config constructor.
func NewSessionForTesting(
	kube kubernetes.Interface,
	dyn dynamic.Interface,
	mapper meta.RESTMapper,
	namePrefix string,
	opts ...Option,
) (*Session, error) {
	return newSession(kube, dyn, mapper, namePrefix, opts...)
}
