package protocol

import (
	"errors"
	"testing"
)

func TestRoundTripBatch(t *testing.T) {
	b := Batch{
		BatchKind: KindTransactions,
		Header:    Header{SessionID: "abc123", MessageID: "m1", ProducerID: "0"},
		Records: []Record{
			NewRecord([2]string{"transaction_id", "1"}, [2]string{"final_amount", "10.5"}),
			NewRecord([2]string{"transaction_id", "2"}, [2]string{"final_amount", "7"}),
		},
	}

	encoded := b.Encode()
	frame, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := frame.(Batch)
	if !ok {
		t.Fatalf("expected Batch, got %T", frame)
	}
	if got.Encode() != encoded {
		t.Fatalf("round trip mismatch:\n got: %s\nwant: %s", got.Encode(), encoded)
	}
	if len(got.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got.Records))
	}
	if v, _ := got.Records[0].Get("final_amount"); v != "10.5" {
		t.Fatalf("expected 10.5, got %q", v)
	}
}

func TestRoundTripHandshake(t *testing.T) {
	h := Handshake{ID: "client-7", Payload: "ALL_QUERIES"}
	encoded := h.Encode()
	frame, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := frame.(Handshake)
	if !ok {
		t.Fatalf("expected Handshake, got %T", frame)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestRoundTripEOF(t *testing.T) {
	e := EOFFrame{Header: Header{SessionID: "s1"}, TerminatedKind: KindMenuItems}
	encoded := e.Encode()
	frame, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := frame.(EOFFrame)
	if !ok {
		t.Fatalf("expected EOFFrame, got %T", frame)
	}
	if got != e {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, e)
	}
}

func TestDecodeUnexpectedEOFKind(t *testing.T) {
	raw := string(kindEOFTag) + "|s1[ZZZ]"
	_, err := Decode(raw)
	if !errors.Is(err, ErrUnexpectedEOFKind) {
		t.Fatalf("expected ErrUnexpectedEOFKind, got %v", err)
	}
}

func TestDecodeMalformedFrame(t *testing.T) {
	cases := []string{
		"TRNnometadatadelimiter",
		"TRN|s1",                 // missing payload start
		"TRN|s1[unterminated",    // missing payload end
		"ZZZ|s1[]",               // unknown kind tag
	}
	for _, c := range cases {
		if _, err := Decode(c); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("case %q: expected ErrMalformedFrame, got %v", c, err)
		}
	}
}

func TestDecodeUnterminatedBatchGroup(t *testing.T) {
	raw := `TRN|s1["id":"1"]`
	if _, err := Decode(raw); !errors.Is(err, ErrMalformedFrame) {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestSplitConcatenatedFrames(t *testing.T) {
	a := Handshake{ID: "c1", Payload: "ALL_QUERIES"}.Encode()
	b := EOFFrame{Header: Header{SessionID: "s1"}, TerminatedKind: KindMenuItems}.Encode()
	partial := `TRN|s1["id":"9`

	frames, rest := Split(a + b + partial)
	if len(frames) != 2 {
		t.Fatalf("expected 2 complete frames, got %d", len(frames))
	}
	if frames[0] != a || frames[1] != b {
		t.Fatalf("frames out of order or corrupted: %v", frames)
	}
	if rest != partial {
		t.Fatalf("expected leftover partial fragment %q, got %q", partial, rest)
	}
}

func TestEmptyBatchRoundTrip(t *testing.T) {
	b := Batch{BatchKind: KindStores, Header: Header{SessionID: "s1"}}
	encoded := b.Encode()
	frame, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := frame.(Batch)
	if len(got.Records) != 0 {
		t.Fatalf("expected no records, got %d", len(got.Records))
	}
}
