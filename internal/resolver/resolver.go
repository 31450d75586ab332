// Package resolver implements the Token Resolver: per-request
// credential selection across header/session/stored/refreshed sources,
// with a process-wide single-flight refresh. Grounded on CLIProxyAPI's
// cachedToken/tokenCache fields in
// internal/runtime/executor/copilot_executor.go, generalized from a
// per-executor cache into an explicit, ordered multi-source lookup.
package resolver

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/copilot-gateway/gateway/internal/profile"
	"github.com/copilot-gateway/gateway/internal/token"
	"golang.org/x/sync/singleflight"
)

// RefreshFunc exchanges a profile's long-lived refresh token for a new
// short-lived primary token. It is supplied by the caller (normally
// internal/authflow's GitHub exchange) so this package stays free of
// provider-specific HTTP logic.
type RefreshFunc func(ctx context.Context, refreshToken string) (string, error)

// Resolver picks the credential to use for an inbound request.
type Resolver struct {
	store   *profile.Store
	refresh RefreshFunc

	cached atomic.Pointer[string]
	group  singleflight.Group
}

// New constructs a Resolver backed by store, using refreshFn to obtain
// new primary tokens when explicitly requested.
func New(store *profile.Store, refreshFn RefreshFunc) *Resolver {
	return &Resolver{store: store, refresh: refreshFn}
}

// Options controls Resolve's behavior.
type Options struct {
	// HeaderToken is the bearer token from the inbound Authorization
	// header, if any.
	HeaderToken string
	// Fallback is the token the server was launched with (e.g. a
	// command-line flag), considered if HeaderToken doesn't classify.
	Fallback string
	// RefreshIfMissing triggers a refresh via the active profile's
	// refresh token when no other source yields a usable token.
	RefreshIfMissing bool
}

// ErrNoProfile is returned when a refresh is requested but no active
// profile exists to refresh.
var ErrNoProfile = errors.New("resolver: no active profile")

// Resolve returns the token to use for this request, trying each source
// in order. An empty string with a nil error means no token could be
// resolved (the caller decides whether that's an error or permits
// anonymous mode).
func (r *Resolver) Resolve(ctx context.Context, opts Options) (string, error) {
	if token.IsCopilotToken(opts.HeaderToken) {
		r.prime(opts.HeaderToken)
		return opts.HeaderToken, nil
	}
	if token.IsCopilotToken(opts.Fallback) {
		r.prime(opts.Fallback)
		return opts.Fallback, nil
	}
	if cached := r.cached.Load(); cached != nil && *cached != "" {
		return *cached, nil
	}
	if r.store != nil {
		if activeID, ok, err := r.store.GetActive(); err == nil && ok {
			if p, found, err := r.store.GetProfile(activeID); err == nil && found {
				if token.IsCopilotToken(p.PrimaryToken) {
					r.prime(p.PrimaryToken)
					return p.PrimaryToken, nil
				}
			}
		}
	}
	if opts.RefreshIfMissing {
		newTok, err := r.Refresh(ctx)
		if err != nil || newTok == "" {
			return "", nil
		}
		return newTok, nil
	}
	return "", nil
}

func (r *Resolver) prime(tok string) {
	t := tok
	r.cached.Store(&t)
}

// Refresh performs at most one upstream refresh process-wide; concurrent
// callers await the same future and observe the same resulting token or
// error (testable property 2). A successful refresh updates the active
// profile's stored primary token and the process-local cache. A failed
// refresh leaves prior state intact.
func (r *Resolver) Refresh(ctx context.Context) (string, error) {
	v, err, _ := r.group.Do("refresh", func() (any, error) {
		return r.doRefresh(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) doRefresh(ctx context.Context) (string, error) {
	if r.store == nil || r.refresh == nil {
		return "", ErrNoProfile
	}
	activeID, ok, err := r.store.GetActive()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNoProfile
	}
	p, found, err := r.store.GetProfile(activeID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", ErrNoProfile
	}

	newTok, err := r.refresh(ctx, p.RefreshToken)
	if err != nil || newTok == "" {
		return "", err
	}

	p.PrimaryToken = newTok
	p.UpdatedAt = time.Now().UnixMilli()
	if err := r.store.SaveProfile(activeID, p); err != nil {
		return "", err
	}
	r.prime(newTok)
	return newTok, nil
}
