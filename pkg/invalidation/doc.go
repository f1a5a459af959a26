// Package invalidation builds, signs and delivers cache-clear requests to
// enforcement points, and verifies their responses.
//
// # Wire Format
//
// Every message is an envelope: a CBOR payload (RFC 8949 core
// deterministic encoding, integer map keys) followed by a 64-byte Ed25519
// signature over that payload. The PDP signs requests with its own key;
// responses are verified against the responding enforcement point's
// public key, looked up by issuer in a Keyring.
//
// A request names the destination endpoint, a reason, the PDP issuer, a
// UTC issue instant, and one group target per policy resource of the
// descriptor. Each group target lists the authorization targets (rule
// resources) beneath it and the actions of its policy. A response echoes
// the request ID and carries a status; only StatusSuccess counts as
// delivered.
//
// # Delivery
//
// Notifier runs the whole exchange for one endpoint and reports a
// NotificationError for transport failures, malformed or unsigned
// responses, and non-success statuses. The signed request bytes are
// returned even on failure so the caller can record them for retry.
package invalidation
