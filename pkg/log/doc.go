// Package log provides the structured logger shared by every core package.
//
// It wraps zerolog with a single global Logger configured once via Init,
// and component-scoped child loggers (WithComponent, WithHandle, WithTopic,
// WithRank) for attaching context without threading a logger through every
// call.
package log
