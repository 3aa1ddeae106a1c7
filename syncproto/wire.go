package syncproto

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/luxfi/narwhal/types"
)

// EncodeRequest canonically encodes a Request for transport.
func EncodeRequest(r Request) []byte {
	var b []byte
	b = protowire.AppendVarint(b, uint64(r.Kind))
	b = protowire.AppendVarint(b, uint64(len(r.Digests)))
	for _, d := range r.Digests {
		b = append(b, d[:]...)
	}
	b = append(b, r.Digest[:]...)
	b = protowire.AppendVarint(b, r.Round)
	b = protowire.AppendVarint(b, r.StartRound)
	b = protowire.AppendVarint(b, r.EndRound)
	b = protowire.AppendVarint(b, r.UpToRound)
	return b
}

// DecodeRequest decodes a Request previously produced by EncodeRequest.
func DecodeRequest(b []byte) (Request, error) {
	var r Request
	kind, b, err := consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.Kind = RequestKind(kind)

	count, b, err := consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.Digests = make([]types.Digest, 0, count)
	for i := uint64(0); i < count; i++ {
		var d types.Digest
		d, b, err = consumeDigest(b)
		if err != nil {
			return r, err
		}
		r.Digests = append(r.Digests, d)
	}

	r.Digest, b, err = consumeDigest(b)
	if err != nil {
		return r, err
	}
	r.Round, b, err = consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.StartRound, b, err = consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.EndRound, b, err = consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.UpToRound, b, err = consumeVarint(b)
	if err != nil {
		return r, err
	}
	if len(b) != 0 {
		return r, fmt.Errorf("syncproto: trailing bytes in encoded request")
	}
	return r, nil
}

// EncodeResponse canonically encodes a Response for transport.
func EncodeResponse(r Response) []byte {
	var b []byte
	b = protowire.AppendVarint(b, uint64(r.Kind))

	b = protowire.AppendVarint(b, uint64(len(r.Certs)))
	for _, c := range r.Certs {
		b = protowire.AppendBytes(b, types.EncodeCertificate(c))
	}
	if r.HasMore {
		b = append(b, 1)
	} else {
		b = append(b, 0)
	}

	b = protowire.AppendVarint(b, uint64(len(r.Batches)))
	for _, batch := range r.Batches {
		b = protowire.AppendBytes(b, types.EncodeBatch(batch))
	}

	b = protowire.AppendVarint(b, r.Round)
	b = protowire.AppendBytes(b, []byte(r.Msg))
	return b
}

// DecodeResponse decodes a Response previously produced by EncodeResponse.
func DecodeResponse(b []byte) (Response, error) {
	var r Response
	kind, b, err := consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.Kind = ResponseKind(kind)

	certCount, b, err := consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.Certs = make([]*types.Certificate, 0, certCount)
	for i := uint64(0); i < certCount; i++ {
		var raw []byte
		raw, b, err = consumeBytes(b)
		if err != nil {
			return r, err
		}
		cert, err := types.DecodeCertificate(raw)
		if err != nil {
			return r, err
		}
		r.Certs = append(r.Certs, cert)
	}

	if len(b) < 1 {
		return r, fmt.Errorf("syncproto: short buffer for HasMore flag")
	}
	r.HasMore = b[0] == 1
	b = b[1:]

	batchCount, b, err := consumeVarint(b)
	if err != nil {
		return r, err
	}
	r.Batches = make([]*types.Batch, 0, batchCount)
	for i := uint64(0); i < batchCount; i++ {
		var raw []byte
		raw, b, err = consumeBytes(b)
		if err != nil {
			return r, err
		}
		batch, err := types.DecodeBatch(raw)
		if err != nil {
			return r, err
		}
		r.Batches = append(r.Batches, batch)
	}

	r.Round, b, err = consumeVarint(b)
	if err != nil {
		return r, err
	}
	var msgBytes []byte
	msgBytes, b, err = consumeBytes(b)
	if err != nil {
		return r, err
	}
	r.Msg = string(msgBytes)

	if len(b) != 0 {
		return r, fmt.Errorf("syncproto: trailing bytes in encoded response")
	}
	return r, nil
}

func consumeVarint(b []byte) (uint64, []byte, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, nil, fmt.Errorf("syncproto: malformed varint")
	}
	return v, b[n:], nil
}

func consumeBytes(b []byte) ([]byte, []byte, error) {
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, nil, fmt.Errorf("syncproto: malformed length-delimited field")
	}
	return v, b[n:], nil
}

func consumeDigest(b []byte) (types.Digest, []byte, error) {
	var d types.Digest
	if len(b) < len(d) {
		return d, nil, fmt.Errorf("syncproto: short buffer for digest")
	}
	copy(d[:], b[:len(d)])
	return d, b[len(d):], nil
}
