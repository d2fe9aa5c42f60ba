package presets

import (
	"strings"
	"testing"
)

func TestLookupKnownPreset(t *testing.T) {
	preset, ok := Lookup("audio-mp3-128k")
	if !ok {
		t.Fatal("expected audio-mp3-128k to exist")
	}
	if preset.Kind != KindAudio || preset.Container != "mp3" {
		t.Fatalf("unexpected preset row: %+v", preset)
	}
}

func TestLookupUnknownPreset(t *testing.T) {
	if _, ok := Lookup("video-vp8-4k"); ok {
		t.Fatal("unknown preset must not resolve")
	}
}

func TestArgsPinInputAndOutput(t *testing.T) {
	preset, _ := Lookup("video-h264-1080p")
	args := preset.Args("/staging/raw/in.webm", "/staging/out/result.mp4")

	joined := strings.Join(args, " ")
	if !strings.HasPrefix(joined, "-hide_banner -nostdin -y -i /staging/raw/in.webm") {
		t.Fatalf("input not pinned first: %v", args)
	}
	if args[len(args)-1] != "/staging/out/result.mp4" {
		t.Fatalf("output not last: %v", args)
	}
	if !strings.Contains(joined, "libx264") {
		t.Fatalf("codec args missing: %v", args)
	}
}

func TestArgsNeverEmbedRequesterText(t *testing.T) {
	// Every template must come from the table literal; a requester-shaped
	// string used as a name cannot reach Args at all.
	if _, ok := Lookup("-i;rm -rf /"); ok {
		t.Fatal("hostile name must not resolve")
	}
}

func TestNamesSortedAndComplete(t *testing.T) {
	names := Names()
	if len(names) != len(All()) {
		t.Fatalf("Names/All mismatch: %d vs %d", len(names), len(All()))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Fatalf("names not sorted: %v", names)
		}
	}
	for _, required := range []string{"audio-mp3-128k", "video-h264-1080p"} {
		found := false
		for _, name := range names {
			if name == required {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("required preset %q missing", required)
		}
	}
}
