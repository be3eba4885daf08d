// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/overseer/lib/codec"
)

func TestFrameRoundtripOverMemoryNetwork(t *testing.T) {
	network := NewMemoryNetwork()
	listener, err := network.Listen("overseer-a")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Frame, 1)
	go listener.Serve(ctx, func(conn Conn) {
		frame, err := conn.Recv()
		if err != nil {
			t.Errorf("server Recv: %v", err)
			return
		}
		received <- frame

		reply, err := NewFrame(KindPong, Ping{Seq: 7})
		if err != nil {
			t.Errorf("NewFrame: %v", err)
			return
		}
		if err := conn.Send(reply); err != nil {
			t.Errorf("server Send: %v", err)
		}
	})

	conn, err := network.Dialer().Dial(ctx, "overseer-a")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	hello, err := NewFrame(KindHello, Hello{Name: "w-1@host", OverseerID: "ov-test"})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}
	if err := conn.Send(hello); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case frame := <-received:
		if frame.Kind != KindHello {
			t.Fatalf("server got kind %s, want hello", frame.Kind)
		}
		var body Hello
		if err := frame.Decode(&body); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if body.Name != "w-1@host" || body.OverseerID != "ov-test" {
			t.Fatalf("decoded hello = %+v", body)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the hello frame")
	}

	reply, err := conn.Recv()
	if err != nil {
		t.Fatalf("client Recv: %v", err)
	}
	if reply.Kind != KindPong {
		t.Fatalf("reply kind = %s, want pong", reply.Kind)
	}
	var pong Ping
	if err := reply.Decode(&pong); err != nil {
		t.Fatalf("Decode pong: %v", err)
	}
	if pong.Seq != 7 {
		t.Fatalf("pong seq = %d, want 7", pong.Seq)
	}
}

func TestDialUnknownAddress(t *testing.T) {
	network := NewMemoryNetwork()
	if _, err := network.Dialer().Dial(context.Background(), "nowhere"); err == nil {
		t.Fatal("dial to unregistered address succeeded")
	}
}

func TestListenerCloseUnregisters(t *testing.T) {
	network := NewMemoryNetwork()
	listener, err := network.Listen("overseer-b")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	listener.Close()

	if _, err := network.Dialer().Dial(context.Background(), "overseer-b"); err == nil {
		t.Fatal("dial to closed listener succeeded")
	}

	// The address is free for reuse after Close.
	if _, err := network.Listen("overseer-b"); err != nil {
		t.Fatalf("re-Listen after Close: %v", err)
	}
}

func TestTelemetryFrameCarriesRawPayload(t *testing.T) {
	payload, err := codec.Marshal(map[string]any{"cpu": 0.25, "jobs": 3})
	if err != nil {
		t.Fatalf("Marshal payload: %v", err)
	}

	frame, err := NewFrame(KindTelemetry, Telemetry{
		Name:      "w-2@host",
		Payload:   payload,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("NewFrame: %v", err)
	}

	var body Telemetry
	if err := frame.Decode(&body); err != nil {
		t.Fatalf("Decode: %v", err)
	}

	var decoded map[string]any
	if err := codec.Unmarshal(body.Payload, &decoded); err != nil {
		t.Fatalf("payload stayed opaque but undecodable: %v", err)
	}
	if decoded["jobs"] != int64(3) && decoded["jobs"] != uint64(3) {
		t.Fatalf("payload jobs = %v (%T)", decoded["jobs"], decoded["jobs"])
	}
}

func TestFrameKindStrings(t *testing.T) {
	cases := map[Kind]string{
		KindHello:       "hello",
		KindPair:        "pair",
		KindTelemetry:   "telemetry",
		KindGoodbye:     "goodbye",
		KindLoadRelease: "load_release",
		Kind(200):       "unknown(200)",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}
