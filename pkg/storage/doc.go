/*
Package storage provides bbolt-backed persistence for the homelab fleet
hub: servers, credentials, host keys, registration and agent tokens,
alert state, remediation actions, config packs, and the apply/drift
history that backs them.

Every entity gets its own bucket, keyed by ID and JSON-encoded. Lookups
that need a secondary key (server by GUID, registration token by hash,
alert state by server+metric) either maintain a small index bucket or
encode a composite key, rather than scanning with ForEach, except where
the entity count is small enough that a full scan is simpler to read
than an index (servers-by-hostname, packs).

ClaimRegistrationToken is the one place multiple buckets are written
inside a single db.Update: creating the server row, minting its agent
credential, and marking the registration token claimed must succeed or
fail together, or a crash between steps could leave a server with no
credential, or a token claimed twice.
*/
package storage
