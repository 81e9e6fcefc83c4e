package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/models"
	"github.com/eldtechnologies/pagechat/internal/store"
)

// Signed request headers.
const (
	HeaderAgent     = "X-Pagechat-Agent"
	HeaderNonce     = "X-Pagechat-Nonce"
	HeaderTimestamp = "X-Pagechat-Timestamp"
	HeaderSignature = "X-Pagechat-Signature"
)

type contextKey string

const AgentContextKey contextKey = "agent"

// AgentLookup resolves agent IDs to their registered keys.
type AgentLookup interface {
	GetAgentByID(ctx context.Context, id uuid.UUID) (*models.Agent, error)
}

// AuthMiddleware handles signature verification for authenticated endpoints.
type AuthMiddleware struct {
	agents AgentLookup
	nonces store.NonceStore
	window time.Duration
	now    func() time.Time
}

// NewAuthMiddleware creates a new auth middleware.
func NewAuthMiddleware(agents AgentLookup, nonces store.NonceStore) *AuthMiddleware {
	return &AuthMiddleware{
		agents: agents,
		nonces: nonces,
		window: 30 * time.Second,
		now:    time.Now,
	}
}

// RequireAuth middleware verifies Ed25519 signatures on requests.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agentID := r.Header.Get(HeaderAgent)
		nonce := r.Header.Get(HeaderNonce)
		timestamp := r.Header.Get(HeaderTimestamp)
		signature := r.Header.Get(HeaderSignature)

		if agentID == "" || nonce == "" || timestamp == "" || signature == "" {
			jsonError(w, http.StatusUnauthorized, "missing auth headers")
			return
		}

		ts, err := strconv.ParseInt(timestamp, 10, 64)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid timestamp format")
			return
		}
		if !m.isTimestampValid(ts) {
			jsonError(w, http.StatusUnauthorized, "timestamp expired or too far in future")
			return
		}

		// Validate nonce format (min 24 chars for adequate entropy)
		if len(nonce) < 24 {
			jsonError(w, http.StatusUnauthorized, "nonce must be at least 24 characters")
			return
		}

		if m.nonces.IsNonceUsed(r.Context(), agentID, nonce) {
			jsonError(w, http.StatusUnauthorized, "nonce already used")
			return
		}

		agentUUID, err := uuid.Parse(agentID)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid agent ID format")
			return
		}

		agent, err := m.agents.GetAgentByID(r.Context(), agentUUID)
		if err != nil || agent == nil {
			jsonError(w, http.StatusUnauthorized, "agent not found")
			return
		}

		body, err := io.ReadAll(r.Body)
		if err != nil {
			jsonError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewBuffer(body)) // Reset for handler

		pubkey, err := crypto.ValidatePublicKey(agent.PublicKey)
		if err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid agent public key")
			return
		}

		signedData := crypto.SignaturePayload(crypto.BodyHash(body), nonce, ts)
		if err := crypto.VerifySignature(pubkey, signedData, signature); err != nil {
			jsonError(w, http.StatusUnauthorized, "invalid signature")
			return
		}

		// Nonces outlive the timestamp window so a replay is caught either way.
		m.nonces.MarkNonceUsed(r.Context(), agentID, nonce, 3*time.Minute)

		ctx := context.WithValue(r.Context(), AgentContextKey, agent)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) isTimestampValid(ts int64) bool {
	now := m.now().UnixMilli()
	windowMs := m.window.Milliseconds()
	// Only accept timestamps from the past (within window), reject future timestamps
	return ts > now-windowMs && ts <= now
}

func jsonError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// GetAgentFromContext retrieves the authenticated agent from the request context.
func GetAgentFromContext(ctx context.Context) *models.Agent {
	agent, ok := ctx.Value(AgentContextKey).(*models.Agent)
	if !ok {
		return nil
	}
	return agent
}
