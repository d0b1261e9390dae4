// Package router mounts the escrow API. Mutating task endpoints require a
// session token; suspended pubkeys are blocked from creating and claiming.
package router

import (
	"net/http"

	"github.com/satwork/backend/internal/handlers"
	"github.com/satwork/backend/internal/middleware"
)

// Deps bundles the handlers and middleware the router wires together.
type Deps struct {
	Tasks    *handlers.TaskHandler
	Disputes *handlers.DisputeHandler
	Node     *handlers.NodeHandler
	Auth     *handlers.AuthHandler

	Issuer     *middleware.TokenIssuer
	Suspension middleware.SuspensionChecker

	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

// New returns the API handler.
func New(d Deps) http.Handler {
	mux := http.NewServeMux()

	authn := middleware.JWTAuth(d.Issuer)
	suspended := middleware.SuspensionCheck(d.Suspension)

	authed := func(h http.HandlerFunc) http.Handler {
		return authn(h)
	}
	// Creating and claiming tasks is closed to suspended pubkeys. Everything
	// else stays open so a suspended user can still finish in-flight work.
	gated := func(h http.HandlerFunc) http.Handler {
		return authn(suspended(h))
	}

	// Session
	mux.HandleFunc("POST /v1/auth/challenge", d.Auth.Challenge)
	mux.HandleFunc("POST /v1/auth/login", d.Auth.Login)

	// Task lifecycle
	mux.Handle("POST /v1/tasks", gated(d.Tasks.CreateTask))
	mux.Handle("POST /v1/tasks/{id}/fund", authed(d.Tasks.FundTask))
	mux.Handle("POST /v1/tasks/{id}/funding/confirm", authed(d.Tasks.ConfirmFunding))
	mux.Handle("POST /v1/tasks/{id}/claim", gated(d.Tasks.ClaimTask))
	mux.Handle("POST /v1/tasks/{id}/proof", authed(d.Tasks.SubmitProof))
	mux.Handle("POST /v1/tasks/{id}/verify", authed(d.Tasks.VerifyTask))
	mux.Handle("POST /v1/tasks/{id}/cancel", authed(d.Tasks.CancelTask))

	// Task reads
	mux.HandleFunc("GET /v1/tasks", d.Tasks.ListTasks)
	mux.HandleFunc("GET /v1/tasks/{id}", d.Tasks.GetTask)
	mux.HandleFunc("GET /v1/tasks/{id}/info", d.Node.TaskInfo)
	mux.HandleFunc("GET /v1/tasks/{id}/events", d.Tasks.GetTaskEvents)
	mux.HandleFunc("GET /v1/tasks/{id}/funding/qr", d.Tasks.FundingQR)
	mux.HandleFunc("GET /v1/tasks/{id}/disputes", d.Disputes.GetTaskDisputes)

	// Disputes
	mux.Handle("POST /v1/disputes/{id}/resolve", authed(d.Disputes.ResolveDispute))
	mux.HandleFunc("GET /v1/disputes/{id}", d.Disputes.GetDispute)

	// Users and reputation
	mux.HandleFunc("GET /v1/users/{pubkey}/tasks", d.Node.UserTasks)
	mux.HandleFunc("GET /v1/users/{pubkey}/reputation", d.Node.Reputation)
	mux.HandleFunc("GET /v1/reputation/leaderboard", d.Node.Leaderboard)
	mux.HandleFunc("GET /v1/reputation/stats", d.Node.ReputationStats)

	// Node status and pricing
	mux.HandleFunc("GET /health", d.Node.Health)
	mux.HandleFunc("GET /v1/node/info", d.Node.NodeInfo)
	mux.HandleFunc("GET /v1/node/liquidity", d.Node.Liquidity)
	mux.HandleFunc("GET /v1/fees", d.Node.Fees)

	if d.Metrics != nil {
		mux.Handle("GET /metrics", d.Metrics)
	}

	return mux
}
