package authgate

import (
	"context"
	"time"
)

// InitialRoute decides the first screen on a cold start.
// It never fails: any storage error routes to Login.
// An expired (or unreadable) session is wiped, quick login included.
func (m *Manager) InitialRoute(ctx context.Context) RouteDecision {
	login := RouteDecision{Route: RouteLogin}

	m.credMu.Lock()
	defer m.credMu.Unlock()

	sess, ok, err := m.vault.readSession(ctx)
	if err != nil {
		m.logger.Warn("bootstrap: reading session", err)
		return login
	}
	if !ok {
		return login
	}

	if sess.LastAuthenticatedAt.IsZero() {
		m.expireLocked(ctx, "no authentication timestamp")
		return login
	}
	if age := m.now().Sub(sess.LastAuthenticatedAt); age > m.conf.SessionMaxAge {
		m.expireLocked(ctx, "expired after "+age.Round(time.Second).String())
		return login
	}

	cred, err := m.vault.readCredential(ctx)
	if err != nil {
		m.logger.Warn("bootstrap: reading quick login credential", err)
		return login
	}
	if !cred.Consistent() {
		m.expireLocked(ctx, "inconsistent quick login credential")
		return login
	}
	if cred.Method.NeedsPIN() {
		return RouteDecision{Route: RoutePINEntry}
	}
	return RouteDecision{Route: RouteHome, Role: sess.Role}
}
