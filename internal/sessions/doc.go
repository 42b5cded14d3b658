// Package sessions implements the focus session workflow: creating sessions
// with a video room, starting and ending their stage clocks, reading
// progress, and managing the intentions participants share.
//
// The service sits between the HTTP layer and the store. It validates
// input, scrubs shared text, and publishes every change on the realtime
// bus so connected participants see it without polling.
package sessions
