/*
Package health provides reachability probes used to tell whether a
peer node is actually answering before the peer finder or the close-
table protocol treats it as up.

Two checker types are implemented:

HTTP: issues a request against a node's transport endpoint and
accepts any status in [ExpectedStatusMin, ExpectedStatusMax].

TCP: dials a node's transport address and succeeds on connect.

# Usage

	checker := health.NewHTTPChecker("http://10.0.1.5:9300/health")
	result := checker.Check(ctx)
	if !result.Healthy {
		log.Warn().Str("message", result.Message).Msg("peer unreachable")
	}

Both checkers satisfy the Checker interface, so callers (e.g.
internal/peers.Finder's connect path) can probe a candidate address
before attempting the full discovery handshake.
*/
package health
