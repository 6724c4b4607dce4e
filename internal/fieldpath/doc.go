// Package fieldpath provides pure lookups of nested fields in the
// unstructured state of a Kubernetes object. Absence of a path segment,
// or a segment of the wrong shape, is reported as a boolean rather than
// an error, so predicates built on top of it are total functions.
package fieldpath
