package testutil

import (
	"net/http"

	id "prism/pkg/domain"
	"prism/pkg/requestcontext"
)

// WithUserID returns the request with an authenticated user in its
// context, simulating what the bearer middleware does after validating
// a token.
func WithUserID(req *http.Request, userID id.UserID) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	return req.WithContext(ctx)
}

// WithAuth returns the request with a user and its token scopes in the
// context. This is the typical state of an authenticated request.
func WithAuth(req *http.Request, userID id.UserID, scopes ...string) *http.Request {
	ctx := requestcontext.WithUserID(req.Context(), userID)
	if len(scopes) > 0 {
		ctx = requestcontext.WithScopes(ctx, scopes)
	}
	return req.WithContext(ctx)
}

// WithAdminActor returns the request with an admin actor recorded, as
// the admin middleware does after verifying a credential.
func WithAdminActor(req *http.Request, actor string) *http.Request {
	ctx := requestcontext.WithAdminActor(req.Context(), actor)
	return req.WithContext(ctx)
}
