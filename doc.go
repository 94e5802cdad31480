// Copyright 2025 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

// Package icexec implements an asynchronous runtime for canister-style
// message handlers: single-threaded code, invoked by a host one message at
// a time, that makes outbound calls resolved by host callbacks, possibly
// many messages later.
//
// Application code is written as straight-line Async tasks (see
// executor.Async), which suspend on calls (package call) and delays
// (package timers). The Runtime wraps each host message, draining any tasks
// made ready by it. If a message traps (panics), every task and call
// continuation is discarded before the *TrapError is returned to the host,
// so that callbacks later delivered for the lost state are ignored.
//
// Dropping a task or call future never cancels a call the host already
// dispatched.
package icexec
