// Package chat is the Twitch IRC boundary of a channel session.
//
// Inbound, IRC connects to one channel and converts every private message into
// an Event on a bounded channel; the session orchestrator fans each event out
// to silence tracking and command parsing, so transport wiring stays out of
// the core logic. Outbound, Sender is the single path to the channel: every
// message, generated prompt or command confirmation, passes through the shared
// rate limiter before it reaches IRC, keeping the platform cap intact in
// aggregate.
//
// Credentials: the IRC client requires a bot username and an OAuth token with
// chat:read/chat:edit scopes (TWITCH_BOT_TOKEN, with or without the "oauth:"
// prefix).
package chat
