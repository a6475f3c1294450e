// Package agent implements the offline cache agent: a versioned cache of
// site assets that is populated at install time, pruned at activation, and
// consulted cache-first for every intercepted GET.
//
// # Lifecycle
//
// An Agent moves through parsed, installing, installed, activating, and
// activated. Install fetches the whole asset manifest before storing any of
// it; a failure leaves no partial generation behind and moves the agent to
// install-failed, from which Install may be retried. Activate deletes every
// generation whose name differs from the configured version and then asks
// the runtime to claim open clients.
//
// # Fetch interception
//
// Fetch answers GET requests from the current generation when it can. On a
// miss it goes to the network and stores 200 responses. When the network
// fails, navigation requests are answered with the cached offline shell
// (FallbackURL, "/index.html" by default).
//
// # Runtime
//
// The agent does not own an event loop. Register binds its handlers to a
// Runtime, which delivers install, activate, and fetch events and provides
// the claim operation; see package host for an HTTP runtime.
package agent
