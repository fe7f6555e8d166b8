package main

import (
	"net/http"

	"github.com/erc7824/nitrolite/walletnode/pkg/log"
	"github.com/erc7824/nitrolite/walletnode/pkg/rpc"
)

// authenticateHandshake resolves the user of a websocket handshake.
func (r *RPCRouter) authenticateHandshake(req *http.Request) (string, error) {
	userID, err := r.Auth.AuthenticateRequest(req)
	if err != nil {
		r.Metrics.AuthAttempts.WithLabelValues("failure").Inc()
		r.lg.Debug("rejected websocket handshake", "remoteAddr", req.RemoteAddr, "error", err)
		return "", err
	}
	if userID != "" {
		r.Metrics.AuthAttempts.WithLabelValues("success").Inc()
	}
	return userID, nil
}

// HandleAuthenticate authenticates an anonymous connection with a token.
func (r *RPCRouter) HandleAuthenticate(c *rpc.Context) {
	logger := log.FromContext(c.Context)

	if r.Auth == nil {
		c.Fail(rpc.Errorf(rpc.CodeUnsupportedMethod, "authentication is disabled"), "")
		return
	}

	var params rpc.AuthenticateRequest
	if err := parseParams(c.Request.Params, &params); err != nil {
		c.Fail(err, "failed to parse parameters")
		return
	}

	claims, err := r.Auth.VerifyJWT(params.Token)
	if err != nil {
		r.Metrics.AuthAttempts.WithLabelValues("failure").Inc()
		logger.Debug("token verification failed", "error", err)
		c.Fail(rpc.Errorf(rpc.CodeUnauthorized, "invalid token"), "")
		return
	}
	r.Metrics.AuthAttempts.WithLabelValues("success").Inc()

	c.UserID = claims.Subject
	c.Succeed(rpc.AuthenticateResponse{
		Subject:   claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	})
}

// AuthMiddleware requires an authenticated connection when auth is enabled.
func (r *RPCRouter) AuthMiddleware(c *rpc.Context) {
	if r.Auth != nil && c.UserID == "" {
		c.Fail(rpc.Errorf(rpc.CodeUnauthorized, "authentication required"), "")
		return
	}

	c.Next()
}
