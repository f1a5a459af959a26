// Package failures keeps the ledger of cache-clear requests that could not
// be delivered to an enforcement point.
//
// A Record is identified by value: two records with the same endpoint,
// request bytes and timestamp are the same record. Repositories key
// records by a BLAKE3 digest of those three fields. Records leave the
// ledger only through an explicit Remove, ClearFailures, or a successful
// retry by the Monitor.
package failures

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/zeebo/blake3"
)

// Record is one failed delivery.
type Record struct {
	// Endpoint is the URL the request was sent to.
	Endpoint string `json:"endpoint"`

	// Request is the signed request envelope.
	Request []byte `json:"request"`

	// Timestamp is when the delivery failed.
	Timestamp time.Time `json:"timestamp"`
}

// Equal reports value equality over all three fields.
func (r Record) Equal(o Record) bool {
	return r.Endpoint == o.Endpoint &&
		bytes.Equal(r.Request, o.Request) &&
		r.Timestamp.Equal(o.Timestamp)
}

// Digest returns the hex BLAKE3 digest identifying the record.
func (r Record) Digest() string {
	h := blake3.New()
	var n [binary.MaxVarintLen64]byte

	h.Write(n[:binary.PutUvarint(n[:], uint64(len(r.Endpoint)))])
	h.Write([]byte(r.Endpoint))
	h.Write(n[:binary.PutUvarint(n[:], uint64(len(r.Request)))])
	h.Write(r.Request)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(r.Timestamp.UnixNano()))
	h.Write(ts[:])

	return hex.EncodeToString(h.Sum(nil))
}
