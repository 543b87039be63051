package statuscache

import (
	"context"
	"testing"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/esa-tu-darmstadt/tapasco/errcode"
)

func encode(payload []byte) []byte {
	buf := protowire.AppendVarint(nil, uint64(len(payload)))
	return append(buf, payload...)
}

func TestCache_SetThenWaitReturnsDecodedPayload(t *testing.T) {
	c := New()
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := c.Set(encode(want)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("payload = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload = %#v, want %#v", got, want)
		}
	}
}

func TestCache_WaitBlocksUntilSet(t *testing.T) {
	c := New()
	done := make(chan []byte, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		got, err := c.Wait(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		done <- got
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("Wait returned before Set was called")
	default:
	}

	if err := c.Set(encode([]byte{1, 2, 3})); err != nil {
		t.Fatalf("Set: %v", err)
	}
	select {
	case got := <-done:
		if len(got) != 3 {
			t.Fatalf("payload = %#v, want 3 bytes", got)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Wait to unblock")
	}
}

func TestCache_SetIgnoresSecondCall(t *testing.T) {
	c := New()
	if err := c.Set(encode([]byte{1})); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Set(encode([]byte{2, 2})); err != nil {
		t.Fatalf("second Set: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Fatalf("payload = %#v, want the first Set's payload", got)
	}
}

func TestCache_SetRejectsMalformedLengthPrefix(t *testing.T) {
	c := New()
	// An all-continuation-bit varint with no terminating byte is malformed.
	raw := []byte{0x80, 0x80, 0x80, 0x80, 0x80}
	err := c.Set(raw)
	if err == nil {
		t.Fatal("expected an error for a malformed varint")
	}
	if errcode.Of(err) != errcode.StatusParseFailure {
		t.Fatalf("code = %v, want %v", errcode.Of(err), errcode.StatusParseFailure)
	}
}

func TestCache_SetRejectsShortPayload(t *testing.T) {
	c := New()
	buf := protowire.AppendVarint(nil, 10)
	buf = append(buf, 1, 2, 3) // declares 10 bytes, only 3 present
	err := c.Set(buf)
	if err == nil {
		t.Fatal("expected an error for a short payload")
	}
	if errcode.Of(err) != errcode.StatusParseFailure {
		t.Fatalf("code = %v, want %v", errcode.Of(err), errcode.StatusParseFailure)
	}
}
