// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package scope carries the acting-user and "now" timestamp through a
// context.Context, the way core/access.ContextWithAuthorization carries an
// Authorization. Every manager operation reads its actor/now from the
// scope attached to the ctx it is called with, rather than taking them as
// explicit parameters, so the scope is inherited automatically by any
// goroutine the caller spawns from that ctx.
package scope

import (
	"context"
	"time"

	"github.com/HYChou0515/autocrud-sub001/resource"
)

type contextKey string

const contextKeyScope contextKey = "_autocrud_scope_"

// Scope is the acting-user/now pair attached to a context.
type Scope struct {
	Actor string
	Now   time.Time
}

// With returns a copy of ctx carrying actor and now. now is normally
// time.Now(), but tests and migrations can pin it to a fixed instant.
func With(ctx context.Context, actor string, now time.Time) context.Context {
	return context.WithValue(ctx, contextKeyScope, Scope{Actor: actor, Now: now})
}

// WithNow is sugar for With(ctx, actor, time.Now()).
func WithNow(ctx context.Context, actor string) context.Context {
	return With(ctx, actor, time.Now())
}

// FromContext returns the Scope attached to ctx, or a NoActorInScope error
// if none was attached. Every manager operation calls this first; there is
// no implicit "anonymous" actor.
func FromContext(ctx context.Context) (Scope, error) {
	s, ok := ctx.Value(contextKeyScope).(Scope)
	if !ok {
		return Scope{}, resource.NewError(resource.KindNoActorInScope, "no actor/now scope attached to context")
	}
	return s, nil
}

// Actor is sugar for FromContext(ctx).Actor.
func Actor(ctx context.Context) (string, error) {
	s, err := FromContext(ctx)
	if err != nil {
		return "", err
	}
	return s.Actor, nil
}

// Now is sugar for FromContext(ctx).Now.
func Now(ctx context.Context) (time.Time, error) {
	s, err := FromContext(ctx)
	if err != nil {
		return time.Time{}, err
	}
	return s.Now, nil
}
