package types

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Canonical encoding for every wire type in the core. Fields are written
// in a fixed order with varint integers and varint-prefixed lengths, and
// digests and public keys written as fixed-width raw bytes,
// using the low-level protobuf wire primitives directly rather than a
// generated schema — there is no ambiguity to resolve with tags since
// encode and decode always walk fields in the same declared order.

func appendDigest(b []byte, d Digest) []byte {
	return append(b, d[:]...)
}

func consumeDigest(b []byte) (Digest, []byte, error) {
	var d Digest
	if len(b) < len(d) {
		return d, nil, fmt.Errorf("types: short buffer for digest")
	}
	copy(d[:], b[:len(d)])
	return d, b[len(d):], nil
}

func appendPublicKey(b []byte, pk PublicKey) []byte {
	return append(b, pk[:]...)
}

func consumePublicKey(b []byte) (PublicKey, []byte, error) {
	var pk PublicKey
	if len(b) < len(pk) {
		return pk, nil, fmt.Errorf("types: short buffer for public key")
	}
	copy(pk[:], b[:len(pk)])
	return pk, b[len(pk):], nil
}

func appendBytesField(b []byte, v []byte) []byte {
	return protowire.AppendBytes(b, v)
}

func consumeBytesField(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, fmt.Errorf("types: malformed length-delimited field")
	}
	if len(v) == 0 {
		return nil, b[n:], nil
	}
	return v, b[n:], nil
}

func appendVarint(b []byte, v uint64) []byte {
	return protowire.AppendVarint(b, v)
}

func consumeVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, fmt.Errorf("types: malformed varint")
	}
	return v, b[n:], nil
}

// EncodeTransaction canonically encodes a Transaction.
func EncodeTransaction(tx *Transaction) []byte {
	var b []byte
	b = appendBytesField(b, tx.Payload)
	b = appendBytesField(b, tx.Metadata)
	return b
}

// DecodeTransaction decodes a Transaction previously produced by
// EncodeTransaction, returning the remaining unconsumed bytes.
func DecodeTransaction(b []byte) (Transaction, []byte, error) {
	var tx Transaction
	var err error
	tx.Payload, b, err = consumeBytesField(b)
	if err != nil {
		return tx, nil, err
	}
	tx.Metadata, b, err = consumeBytesField(b)
	if err != nil {
		return tx, nil, err
	}
	return tx, b, nil
}

// EncodeBatch canonically encodes a Batch. Transaction order is preserved
// exactly as submitted.
func EncodeBatch(bt *Batch) []byte {
	var b []byte
	b = appendVarint(b, uint64(bt.Worker))
	b = appendVarint(b, uint64(bt.CreatedAt.UnixNano()))
	b = appendVarint(b, uint64(len(bt.Transactions)))
	for i := range bt.Transactions {
		b = appendBytesField(b, EncodeTransaction(&bt.Transactions[i]))
	}
	return b
}

// DecodeBatch decodes a Batch previously produced by EncodeBatch.
func DecodeBatch(b []byte) (*Batch, error) {
	bt := &Batch{}
	var worker, created, count uint64
	var err error
	worker, b, err = consumeVarint(b)
	if err != nil {
		return nil, err
	}
	created, b, err = consumeVarint(b)
	if err != nil {
		return nil, err
	}
	count, b, err = consumeVarint(b)
	if err != nil {
		return nil, err
	}
	bt.Worker = uint32(worker)
	bt.CreatedAt = time.Unix(0, int64(created)).UTC()
	bt.Transactions = make([]Transaction, 0, count)
	for i := uint64(0); i < count; i++ {
		var txBytes []byte
		txBytes, b, err = consumeBytesField(b)
		if err != nil {
			return nil, err
		}
		tx, rest, err := DecodeTransaction(txBytes)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("types: trailing bytes in encoded transaction")
		}
		bt.Transactions = append(bt.Transactions, tx)
	}
	return bt, nil
}

// EncodeHeader canonically encodes a Header.
func EncodeHeader(h *Header) []byte {
	var b []byte
	b = appendPublicKey(b, h.Author)
	b = appendVarint(b, h.Round)
	b = appendDigest(b, h.BatchDigest)
	b = appendVarint(b, uint64(len(h.Parents)))
	for _, p := range h.Parents {
		b = appendDigest(b, p)
	}
	b = appendVarint(b, uint64(h.Timestamp.UnixNano()))
	return b
}

// DecodeHeader decodes a Header previously produced by EncodeHeader.
func DecodeHeader(b []byte) (*Header, error) {
	h := &Header{}
	var err error
	h.Author, b, err = consumePublicKey(b)
	if err != nil {
		return nil, err
	}
	h.Round, b, err = consumeVarint(b)
	if err != nil {
		return nil, err
	}
	h.BatchDigest, b, err = consumeDigest(b)
	if err != nil {
		return nil, err
	}
	var count uint64
	count, b, err = consumeVarint(b)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		h.Parents = make([]Digest, 0, count)
	}
	for i := uint64(0); i < count; i++ {
		var p Digest
		p, b, err = consumeDigest(b)
		if err != nil {
			return nil, err
		}
		h.Parents = append(h.Parents, p)
	}
	var ts uint64
	ts, b, err = consumeVarint(b)
	if err != nil {
		return nil, err
	}
	h.Timestamp = time.Unix(0, int64(ts)).UTC()
	if len(b) != 0 {
		return nil, fmt.Errorf("types: trailing bytes in encoded header")
	}
	return h, nil
}

// EncodeVote canonically encodes a Vote.
func EncodeVote(v *Vote) []byte {
	var b []byte
	b = appendDigest(b, v.HeaderDigest)
	b = appendPublicKey(b, v.Voter)
	b = appendBytesField(b, v.Signature)
	return b
}

// DecodeVote decodes a Vote previously produced by EncodeVote.
func DecodeVote(b []byte) (*Vote, error) {
	v := &Vote{}
	var err error
	v.HeaderDigest, b, err = consumeDigest(b)
	if err != nil {
		return nil, err
	}
	v.Voter, b, err = consumePublicKey(b)
	if err != nil {
		return nil, err
	}
	v.Signature, b, err = consumeBytesField(b)
	if err != nil {
		return nil, err
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("types: trailing bytes in encoded vote")
	}
	return v, nil
}

// EncodeCertificate canonically encodes a Certificate.
func EncodeCertificate(c *Certificate) []byte {
	var b []byte
	b = appendBytesField(b, EncodeHeader(&c.Header))
	b = appendBytesField(b, c.AggregatedSignature)
	b = appendVarint(b, uint64(len(c.Signers)))
	for _, s := range c.Signers {
		b = appendPublicKey(b, s)
	}
	return b
}

// DecodeCertificate decodes a Certificate previously produced by
// EncodeCertificate.
func DecodeCertificate(b []byte) (*Certificate, error) {
	c := &Certificate{}
	var err error
	var headerBytes []byte
	headerBytes, b, err = consumeBytesField(b)
	if err != nil {
		return nil, err
	}
	h, err := DecodeHeader(headerBytes)
	if err != nil {
		return nil, err
	}
	c.Header = *h
	c.AggregatedSignature, b, err = consumeBytesField(b)
	if err != nil {
		return nil, err
	}
	var count uint64
	count, b, err = consumeVarint(b)
	if err != nil {
		return nil, err
	}
	c.Signers = make([]PublicKey, 0, count)
	for i := uint64(0); i < count; i++ {
		var s PublicKey
		s, b, err = consumePublicKey(b)
		if err != nil {
			return nil, err
		}
		c.Signers = append(c.Signers, s)
	}
	if len(b) != 0 {
		return nil, fmt.Errorf("types: trailing bytes in encoded certificate")
	}
	return c, nil
}

// EncodeCertificateDigestInput encodes the input to a certificate's digest
// function: the header digest followed by the signer set, so two
// certificates over the same header but different voter sets have
// distinct identities.
func EncodeCertificateDigestInput(c *Certificate) []byte {
	var b []byte
	b = appendDigest(b, c.Header.Digest())
	b = appendVarint(b, uint64(len(c.Signers)))
	for _, s := range c.Signers {
		b = appendPublicKey(b, s)
	}
	return b
}
