package sweeper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ariefcatur/go-checkout-payments/internal/metrics"
	"github.com/ariefcatur/go-checkout-payments/internal/orders"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidFilter   = errors.New("invalid purge filter")
	ErrEmptyFilter     = fmt.Errorf("%w: no kinds selected", ErrInvalidFilter)
	ErrApprovalInvalid = errors.New("approval token invalid")
	ErrApprovalExpired = errors.New("approval token expired")
)

// PurgeRequest is the operator-facing filter. OlderThan accepts Go durations
// plus a day suffix ("7d").
type PurgeRequest struct {
	Kinds     []string `json:"kinds"`
	OlderThan string   `json:"olderThan"`
}

func (r PurgeRequest) filter(now time.Time) (orders.PurgeFilter, error) {
	var f orders.PurgeFilter
	for _, k := range r.Kinds {
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "failed":
			f.Failed = true
		case "expired":
			f.Expired = true
		case "synthetic", "test":
			f.Synthetic = true
		default:
			return f, fmt.Errorf("%w: unknown kind %q", ErrInvalidFilter, k)
		}
	}
	if f.Empty() {
		return f, ErrEmptyFilter
	}
	age, err := parseAge(r.OlderThan)
	if err != nil {
		return f, err
	}
	f.Before = now.Add(-age)
	return f, nil
}

func parseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if d, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(d)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: olderThan %q", ErrInvalidFilter, s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	age, err := time.ParseDuration(s)
	if err != nil || age < 0 {
		return 0, fmt.Errorf("%w: olderThan %q", ErrInvalidFilter, s)
	}
	return age, nil
}

type Plan struct {
	Filter        orders.PurgeFilter `json:"filter"`
	Matching      int64              `json:"matching"`
	ApprovalToken string             `json:"approvalToken"`
	ExpiresAt     time.Time          `json:"expiresAt"`
}

type PurgeResult struct {
	Filter  orders.PurgeFilter `json:"filter"`
	Deleted int64              `json:"deleted"`
}

// approvalAudience scopes approval tokens to purge execution.
const approvalAudience = "checkout-admin-purge"

// approval is signed HS256; the subject is the actor who planned the purge.
type approval struct {
	Filter orders.PurgeFilter `json:"filter"`
	jwt.RegisteredClaims
}

// Admin implements the two-step purge: plan shows what would go and signs
// it, execute only runs a signed plan for the same actor.
type Admin struct {
	Store    orders.Store
	Sweeper  *Sweeper
	Secret   []byte
	TokenTTL time.Duration
	Metrics  *metrics.Metrics

	now func() time.Time
}

func (a *Admin) clock() time.Time {
	if a.now != nil {
		return a.now()
	}
	return time.Now().UTC()
}

func (a *Admin) PlanPurge(ctx context.Context, actor string, req PurgeRequest) (Plan, error) {
	now := a.clock()
	f, err := req.filter(now)
	if err != nil {
		return Plan{}, err
	}
	n, err := a.Store.CountPurgeable(ctx, f)
	if err != nil {
		return Plan{}, err
	}
	ttl := a.TokenTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	exp := now.Add(ttl).Truncate(time.Second)
	tok, err := a.sign(approval{Filter: f, RegisteredClaims: jwt.RegisteredClaims{
		Subject:   actor,
		Audience:  jwt.ClaimStrings{approvalAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}})
	if err != nil {
		return Plan{}, err
	}
	return Plan{Filter: f, Matching: n, ApprovalToken: tok, ExpiresAt: exp}, nil
}

func (a *Admin) ExecutePurge(ctx context.Context, actor, token string) (PurgeResult, error) {
	ap, err := a.verify(token)
	if err != nil {
		return PurgeResult{}, err
	}
	if ap.Subject != actor {
		return PurgeResult{}, ErrApprovalInvalid
	}

	n, err := a.Store.Purge(ctx, ap.Filter)
	if err != nil {
		return PurgeResult{}, err
	}
	a.Metrics.PurgedOrders(n)
	detail, _ := json.Marshal(ap.Filter)
	if err := a.Store.AppendAudit(ctx, orders.AuditEntry{
		Actor: actor, Action: "purge", Detail: detail, Affected: n, At: a.clock(),
	}); err != nil {
		return PurgeResult{Filter: ap.Filter, Deleted: n}, fmt.Errorf("audit: %w", err)
	}
	return PurgeResult{Filter: ap.Filter, Deleted: n}, nil
}

// Sweep runs one expiry pass on demand and records who asked for it.
func (a *Admin) Sweep(ctx context.Context, actor string) (int, error) {
	if a.Sweeper == nil {
		return 0, errors.New("sweeper not configured")
	}
	n, err := a.Sweeper.ExpireStale(ctx)
	if err != nil {
		return n, err
	}
	if err := a.Store.AppendAudit(ctx, orders.AuditEntry{
		Actor: actor, Action: "sweep", Affected: int64(n), At: a.clock(),
	}); err != nil {
		return n, fmt.Errorf("audit: %w", err)
	}
	return n, nil
}

func (a *Admin) Stats(ctx context.Context) (orders.Stats, error) {
	return a.Store.Stats(ctx)
}

func (a *Admin) sign(ap approval) (string, error) {
	if len(a.Secret) == 0 {
		return "", errors.New("admin secret not configured")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, ap).SignedString(a.Secret)
}

func (a *Admin) verify(token string) (*approval, error) {
	if len(a.Secret) == 0 {
		return nil, ErrApprovalInvalid
	}
	var ap approval
	_, err := jwt.ParseWithClaims(token, &ap, func(*jwt.Token) (any, error) { return a.Secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(approvalAudience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.clock),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrApprovalExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrApprovalInvalid, err)
	}
	return &ap, nil
}
