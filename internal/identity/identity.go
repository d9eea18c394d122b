// Package identity provides anonymous per-browser guest identity.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/ashureev/guest-coach/internal/domain"
)

const (
	GuestCookieName   = "coach_guest_id"
	guestCookieMaxAge = 180 * 24 * time.Hour
	// Guests seen more recently than this are not rewritten on every request.
	touchInterval = 10 * time.Minute
)

type contextKey int

const guestIDKey contextKey = iota

var guestIDPattern = regexp.MustCompile(`^guest_[a-f0-9]{32}$`)

// GuestStore is the persistence the middleware needs.
type GuestStore interface {
	GetGuest(ctx context.Context, guestID string) (*domain.Guest, error)
	UpsertGuest(ctx context.Context, guest *domain.Guest) error
}

// GuestIDFromContext extracts the guest ID from the request context.
func GuestIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(guestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithGuestID returns a context carrying guestID.
func WithGuestID(ctx context.Context, guestID string) context.Context {
	return context.WithValue(ctx, guestIDKey, guestID)
}

func generateGuestID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate guest id: %w", err)
	}
	return "guest_" + hex.EncodeToString(buf), nil
}

// IsValidGuestID reports whether id has the issued format.
func IsValidGuestID(id string) bool {
	return guestIDPattern.MatchString(id)
}

func ensureGuest(ctx context.Context, repo GuestStore, guestID string) error {
	guest, err := repo.GetGuest(ctx, guestID)
	if err != nil {
		return err
	}
	if guest != nil && guest.Seen(touchInterval) {
		return nil
	}

	now := time.Now()
	if guest == nil {
		guest = &domain.Guest{GuestID: guestID, CreatedAt: now}
	}
	guest.LastSeenAt = now
	return repo.UpsertGuest(ctx, guest)
}

func setGuestCookie(w http.ResponseWriter, id string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(guestCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(guestCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

func getOrCreateGuestID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	if c, err := r.Cookie(GuestCookieName); err == nil && IsValidGuestID(c.Value) {
		setGuestCookie(w, c.Value, isDev)
		return c.Value, nil
	}

	id, err := generateGuestID()
	if err != nil {
		return "", err
	}
	setGuestCookie(w, id, isDev)
	return id, nil
}

// ClearCookie expires the guest cookie, used after data erasure.
func ClearCookie(w http.ResponseWriter, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     GuestCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
}

// Middleware issues or refreshes the guest cookie and injects the guest ID.
func Middleware(repo GuestStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			guestID, err := getOrCreateGuestID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish guest identity"}`, http.StatusInternalServerError)
				return
			}

			if err := ensureGuest(r.Context(), repo, guestID); err != nil {
				slog.Error("Failed to initialize guest", "guest_id", guestID, "error", err)
				http.Error(w, `{"error":"failed to initialize guest"}`, http.StatusInternalServerError)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithGuestID(r.Context(), guestID)))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
