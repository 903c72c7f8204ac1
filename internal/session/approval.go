package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/forgeflow/conductor/internal/wfstate"
)

// Decision aliases wfstate.Decision so callers outside this package (cmd/
// conductor's websocket adapter included) keep using session.Decision
// while nodes reach the same type through workflow.Approver without
// depending on this package.
type Decision = wfstate.Decision

// DecisionRejected is the implicit answer a request resolves to when its
// deadline passes with no matching approval_response (spec §9 open
// questions: "a missing reply may be treated as implicit rejection after a
// configurable deadline").
var DecisionRejected = wfstate.DecisionRejected

var (
	errUnknownCorrelation = errors.New("session: no pending approval for correlation id")
	errSessionMismatch    = errors.New("session: approval correlation id belongs to a different session")
)

// approvalClaims binds a correlation token to the session and action it was
// issued for, so a reply cannot be replayed against an unrelated request.
type approvalClaims struct {
	SessionID  string `json:"sid"`
	ActionType string `json:"action_type"`
	jwt.RegisteredClaims
}

// DefaultApprovalTimeout is used when RequestApproval is called with
// timeout<=0.
const DefaultApprovalTimeout = 5 * time.Minute

// approvalBroker issues signed correlation ids for HITL approval requests
// and resolves them against matching approval_response control messages.
// Grounded on the teacher's auth.JWTService (internal/auth/jwt.go):
// same sign/parse-with-claims shape, repurposed from user session tokens to
// single-use approval correlation tokens.
type approvalBroker struct {
	secret []byte

	mu      sync.Mutex
	pending map[string]chan Decision
}

func newApprovalBroker(secret string) *approvalBroker {
	if secret == "" {
		secret = uuid.NewString()
	}
	return &approvalBroker{secret: []byte(secret), pending: make(map[string]chan Decision)}
}

// issue signs a new correlation token for one approval request.
func (b *approvalBroker) issue(sessionID, actionType string, timeout time.Duration) (string, chan Decision, error) {
	if timeout <= 0 {
		timeout = DefaultApprovalTimeout
	}
	claims := approvalClaims{
		SessionID:  sessionID,
		ActionType: actionType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(timeout)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(b.secret)
	if err != nil {
		return "", nil, fmt.Errorf("session: sign approval correlation id: %w", err)
	}

	ch := make(chan Decision, 1)
	b.mu.Lock()
	b.pending[claims.ID] = ch
	b.mu.Unlock()
	return signed, ch, nil
}

func (b *approvalBroker) cancel(correlationID string) {
	claims, err := b.parse(correlationID)
	if err != nil {
		return
	}
	b.mu.Lock()
	delete(b.pending, claims.ID)
	b.mu.Unlock()
}

// resolve delivers a client's approval_response to the matching waiter.
func (b *approvalBroker) resolve(sessionID, correlationID string, decision Decision) error {
	claims, err := b.parse(correlationID)
	if err != nil {
		return err
	}
	if claims.SessionID != sessionID {
		return errSessionMismatch
	}

	b.mu.Lock()
	ch, ok := b.pending[claims.ID]
	if ok {
		delete(b.pending, claims.ID)
	}
	b.mu.Unlock()
	if !ok {
		return errUnknownCorrelation
	}

	select {
	case ch <- decision:
	default:
	}
	return nil
}

func (b *approvalBroker) parse(correlationID string) (*approvalClaims, error) {
	if strings.TrimSpace(correlationID) == "" {
		return nil, errUnknownCorrelation
	}
	parsed, err := jwt.ParseWithClaims(correlationID, &approvalClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return b.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUnknownCorrelation, err)
	}
	claims, ok := parsed.Claims.(*approvalClaims)
	if !ok || !parsed.Valid {
		return nil, errUnknownCorrelation
	}
	return claims, nil
}

// await blocks for a reply, the request's own deadline, or the caller's
// context, whichever comes first; a missing reply resolves to
// DecisionRejected rather than an error, per spec §9's chosen policy.
func await(ctx context.Context, ch chan Decision, deadline time.Time) Decision {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case d := <-ch:
		return d
	case <-timer.C:
		return DecisionRejected
	case <-ctx.Done():
		return DecisionRejected
	}
}
