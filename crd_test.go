package k8swait

import (
	"context"
	"errors"
	"testing"
	"time"

	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	dynamicfake "k8s.io/client-go/dynamic/fake"
)

var crdGVR = schema.GroupVersionResource{
	Group:    "apiextensions.k8s.io",
	Version:  "v1",
	Resource: "customresourcedefinitions",
}

func widgetCRD() *apiextensionsv1.CustomResourceDefinition {
	return &apiextensionsv1.CustomResourceDefinition{
		ObjectMeta: metav1.ObjectMeta{Name: "widgets.example.com"},
		Spec: apiextensionsv1.CustomResourceDefinitionSpec{
			Group: "example.com",
			Scope: apiextensionsv1.NamespaceScoped,
			Names: apiextensionsv1.CustomResourceDefinitionNames{
				Plural: "widgets",
				Kind:   "Widget",
			},
			Versions: []apiextensionsv1.CustomResourceDefinitionVersion{
				{Name: "v1", Served: true, Storage: true},
			},
		},
	}
}

func crdUnstructured(t *testing.T, crd *apiextensionsv1.CustomResourceDefinition) *unstructured.Unstructured {
	t.Helper()
	content, err := runtime.DefaultUnstructuredConverter.ToUnstructured(crd)
	if err != nil {
		t.Fatalf("convert crd: %v", err)
	}
	u := &unstructured.Unstructured{Object: content}
	u.SetAPIVersion("apiextensions.k8s.io/v1")
	u.SetKind("CustomResourceDefinition")
	return u
}

// establishCRD marks the CRD Established in the fake cluster and delivers
// the matching Modified event.
func establishCRD(t *testing.T, dyn *dynamicfake.FakeDynamicClient, ctrl *watchController, crd *apiextensionsv1.CustomResourceDefinition) {
	t.Helper()
	crd.Status.Conditions = []apiextensionsv1.CustomResourceDefinitionCondition{
		{Type: apiextensionsv1.Established, Status: apiextensionsv1.ConditionTrue},
	}
	u := crdUnstructured(t, crd)
	if _, err := dyn.Resource(crdGVR).Update(context.Background(), u, metav1.UpdateOptions{}); err != nil {
		t.Fatalf("update crd: %v", err)
	}
	ctrl.current(t).Modify(u)
}

// TestApplyCRDWaitsForEstablished verifies that ApplyCRD resolves only once
// the API server reports the definition Established.
func TestApplyCRDWaitsForEstablished(t *testing.T) {
	t.Parallel()

	s, dyn, ctrl := newTestSession(t)
	ctx := context.Background()

	type result struct {
		crd *apiextensionsv1.CustomResourceDefinition
		err error
	}
	results := make(chan result, 1)
	go func() {
		crd, err := ApplyCRD(ctx, s, widgetCRD(), 0)
		results <- result{crd, err}
	}()

	ctrl.awaitSubscribe(t)
	establishCRD(t, dyn, ctrl, widgetCRD())

	res := <-results
	if res.err != nil {
		t.Fatalf("ApplyCRD: %v", res.err)
	}
	if !CRDEstablished(res.crd) {
		t.Fatal("returned CRD must be Established")
	}
}

// TestApplyCRDTimeout verifies the timeout outcome for a definition that
// never becomes Established.
func TestApplyCRDTimeout(t *testing.T) {
	t.Parallel()

	s, _, _ := newTestSession(t)

	_, err := ApplyCRD(context.Background(), s, widgetCRD(), 150*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("error = %v, want ErrTimedOut", err)
	}
}

// TestCRDEstablished verifies the condition predicate in isolation.
func TestCRDEstablished(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		conditions []apiextensionsv1.CustomResourceDefinitionCondition
		want       bool
	}{
		"established": {
			conditions: []apiextensionsv1.CustomResourceDefinitionCondition{
				{Type: apiextensionsv1.Established, Status: apiextensionsv1.ConditionTrue},
			},
			want: true,
		},
		"not yet established": {
			conditions: []apiextensionsv1.CustomResourceDefinitionCondition{
				{Type: apiextensionsv1.Established, Status: apiextensionsv1.ConditionFalse},
			},
			want: false,
		},
		"no conditions": {
			conditions: nil,
			want:       false,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			crd := widgetCRD()
			crd.Status.Conditions = tc.conditions
			if got := CRDEstablished(crd); got != tc.want {
				t.Fatalf("CRDEstablished = %v, want %v", got, tc.want)
			}
		})
	}
}
