package server

// Route path constants
// All application routes are defined here to ensure consistency and prevent typos
const (
	// Auth Routes - proxied to the identity provider
	RouteAuthSignIn  = "/api/auth/signin"
	RouteAuthSignUp  = "/api/auth/signup"
	RouteAuthSignOut = "/api/auth/signout"

	// Chat Routes
	RouteSessions        = "/api/sessions"
	RouteSession         = "/api/sessions/{sessionId}"
	RouteSessionMessages = "/api/sessions/{sessionId}/messages"
	RouteChat            = "/api/chat"

	// Extension sync
	RouteSyncWS = "/sync/ws"

	// Operations
	RouteMetrics = "/metrics"
	RouteHealth  = "/healthz"
)

// HeaderChatSessionID carries the session a chat reply belongs to.
const HeaderChatSessionID = "x-chat-session-id"
