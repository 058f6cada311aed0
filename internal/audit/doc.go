// Package audit records security-relevant events: every gate decision and
// every identity flow step (login, logout, password reset, email change).
//
// Events are written as JSON lines to the configured output and fanned
// out to optional sinks such as the durable authentication log. Events
// carry the failure kind and reason of a rejected check, which the HTTP
// response deliberately hides, but never credential material.
//
//	logger, err := audit.NewLogger(cfg.Audit, audit.WithSink(authLog))
//	if err != nil {
//	    return err
//	}
//	logger.LogEvent(ctx, audit.GateEvent(audit.OutcomeDenied, "api_key", "missing_credential", "absent", res))
package audit
