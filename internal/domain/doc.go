// Package domain holds the value types, interfaces, and sentinel errors
// shared across the realtime service.
package domain
