// Package auth holds the bearer credential used for backend requests and
// persists it between runs.
package auth
