// Copyright 2026 The Bowline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package http

import (
	"context"

	"github.com/bowlinehq/bowline/internal/identity"
)

type contextKey string

const (
	userKey         contextKey = "user"
	organizationKey contextKey = "organization"
	authMethodKey   contextKey = "auth_method"
)

// GetUser retrieves the authenticated user from context.
func GetUser(ctx context.Context) *identity.User {
	if val, ok := ctx.Value(userKey).(*identity.User); ok {
		return val
	}
	return nil
}

// GetOrganization retrieves the active organization from context.
func GetOrganization(ctx context.Context) *identity.Organization {
	if val, ok := ctx.Value(organizationKey).(*identity.Organization); ok {
		return val
	}
	return nil
}

// GetAuthMethod reports which credential scheme authenticated the
// request: "session", "api_key", or "oauth".
func GetAuthMethod(ctx context.Context) string {
	if val, ok := ctx.Value(authMethodKey).(string); ok {
		return val
	}
	return ""
}

func withPrincipal(ctx context.Context, user *identity.User, org *identity.Organization, method string) context.Context {
	ctx = context.WithValue(ctx, userKey, user)
	ctx = context.WithValue(ctx, organizationKey, org)
	return context.WithValue(ctx, authMethodKey, method)
}
