// Package ratelimit gates outbound CRM calls with a call-count pause rule.
//
// After every completed call the limiter increments a counter; when the
// counter reaches a multiple of Every, the caller is suspended for Pause
// before control returns. With the defaults, calls 1-8 run undelayed and the
// 9th call starts only after a 2 second pause.
//
// Counter keeps the count in process behind a mutex. RedisCounter keeps it
// in Redis so that several replicas share one budget.
package ratelimit
