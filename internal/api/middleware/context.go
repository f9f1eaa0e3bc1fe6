package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	adminUserKey contextKey = "admin_user"
)

func SetRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(requestIDKey).(string)
	return id, ok
}

func setAdminUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, adminUserKey, user)
}

// GetAdminUser returns the authenticated admin username, if any.
func GetAdminUser(r *http.Request) (string, bool) {
	user, ok := r.Context().Value(adminUserKey).(string)
	return user, ok
}
