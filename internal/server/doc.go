// Package server assembles the HTTP stack: routing, authentication,
// rate limiting, CORS, security headers, and request logging around the
// API handlers.
package server
