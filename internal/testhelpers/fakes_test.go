package testhelpers

import (
	"context"
	"testing"

	"ragengine/internal/llmprovider"
)

func TestFakeProvider_Chat(t *testing.T) {
	fp := &FakeProvider{Resp: "ok"}
	text, err := fp.Chat(context.Background(), llmprovider.Request{Model: "model"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if text != "ok" {
		t.Fatalf("unexpected content: %q", text)
	}
}

func TestFakeProvider_ChatStream(t *testing.T) {
	fp := &FakeProvider{StreamFragments: []string{"a", "b", "c"}}
	stream, err := fp.ChatStream(context.Background(), llmprovider.Request{Model: "m"})
	if err != nil {
		t.Fatalf("stream err: %v", err)
	}
	var got []string
	for {
		frag, ok, err := stream()
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, frag)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(got))
	}
}
