package permissions

import (
	"context"

	authorizationv1 "k8s.io/api/authorization/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// Decision is the outcome of one access review.
type Decision struct {
	Allowed         bool
	Denied          bool
	Reason          string
	EvaluationError string
}

// AccessReviewer answers a single permission question.
type AccessReviewer interface {
	Review(ctx context.Context, req Request, namespace string) (Decision, error)
}

// ReviewerFunc adapts a function to AccessReviewer.
type ReviewerFunc func(ctx context.Context, req Request, namespace string) (Decision, error)

// Review calls f.
func (f ReviewerFunc) Review(ctx context.Context, req Request, namespace string) (Decision, error) {
	return f(ctx, req, namespace)
}

// SelfSubjectAccessReviewer asks the API server through SelfSubjectAccessReview.
type SelfSubjectAccessReviewer struct {
	client kubernetes.Interface
}

// NewSelfSubjectAccessReviewer returns a reviewer backed by client.
func NewSelfSubjectAccessReviewer(client kubernetes.Interface) *SelfSubjectAccessReviewer {
	return &SelfSubjectAccessReviewer{client: client}
}

// Review creates a SelfSubjectAccessReview for req. An empty namespace asks
// about all namespaces.
func (r *SelfSubjectAccessReviewer) Review(ctx context.Context, req Request, namespace string) (Decision, error) {
	review := &authorizationv1.SelfSubjectAccessReview{
		Spec: authorizationv1.SelfSubjectAccessReviewSpec{
			ResourceAttributes: &authorizationv1.ResourceAttributes{
				Namespace: namespace,
				Verb:      req.Verb,
				Group:     req.Group,
				Resource:  req.Resource,
			},
		},
	}

	result, err := r.client.AuthorizationV1().SelfSubjectAccessReviews().Create(ctx, review, metav1.CreateOptions{})
	if err != nil {
		return Decision{}, &AccessReviewError{
			Request: req,
			Reason:  "SelfSubjectAccessReview API call failed",
			Err:     err,
		}
	}

	return Decision{
		Allowed:         result.Status.Allowed,
		Denied:          result.Status.Denied,
		Reason:          result.Status.Reason,
		EvaluationError: result.Status.EvaluationError,
	}, nil
}
