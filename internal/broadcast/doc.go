// Package broadcast implements the fan-out engine: fetch a fresh results
// snapshot for a poll, then deliver it to every current subscriber.
package broadcast
