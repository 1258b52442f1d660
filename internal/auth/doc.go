// Package auth authenticates agents connecting to the relay.
//
// Agents present an HS256 JWT in the "authorization" metadata header as
// "Bearer <token>". The token's "sub" claim is the agent address; the relay
// only lets a stream register the address its token names.
//
// StreamInterceptor verifies the token and stores an AuthContext in the
// stream context. NoAuthStreamInterceptor stores an anonymous context when
// authentication is disabled. TokenCredentials is the client side: it plugs
// into grpc.WithPerRPCCredentials.
package auth
