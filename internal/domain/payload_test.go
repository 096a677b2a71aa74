package domain

import (
	"strings"
	"testing"
	"unicode/utf8"

	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

func TestPayloadValidate(t *testing.T) {
	cases := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"text ok", Payload{Type: MessageTypeText, Body: "hello"}, false},
		{"text empty body", Payload{Type: MessageTypeText}, true},
		{"image ok", Payload{Type: MessageTypeImage, MediaPath: "/data/a.jpg"}, false},
		{"image missing media", Payload{Type: MessageTypeImage}, true},
		{"file missing filename", Payload{Type: MessageTypeFile, MediaPath: "/data/a.pdf"}, true},
		{"link ok", Payload{Type: MessageTypeLink, URL: "https://example.com"}, false},
		{"link missing url", Payload{Type: MessageTypeLink, Body: "check this out"}, true},
		{"location ok", Payload{Type: MessageTypeLocation, Latitude: 1.5, Longitude: 2.5}, false},
		{"contact missing phone", Payload{Type: MessageTypeContact, ContactName: "Lina"}, true},
		{"poll ok", Payload{Type: MessageTypePoll, PollQuestion: "lunch?", PollOptions: []string{"yes", "no"}}, false},
		{"poll one option", Payload{Type: MessageTypePoll, PollQuestion: "lunch?", PollOptions: []string{"yes"}}, true},
		{"unknown type", Payload{Type: MessageType("sticker")}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.payload.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected validation error for %+v", tc.payload)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && !apperrors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("expected validation sentinel, got %v", err)
			}
		})
	}
}

func TestTruncateError(t *testing.T) {
	long := make([]byte, ErrorMessageLimit+100)
	for i := range long {
		long[i] = 'x'
	}
	if got := TruncateError(string(long)); len(got) != ErrorMessageLimit {
		t.Fatalf("expected %d chars, got %d", ErrorMessageLimit, len(got))
	}
	if got := TruncateError("short"); got != "short" {
		t.Fatalf("short text must pass through, got %q", got)
	}
}

func TestTruncateErrorKeepsRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", ErrorMessageLimit+100)

	got := TruncateError(long)
	if n := utf8.RuneCountInString(got); n != ErrorMessageLimit {
		t.Fatalf("expected %d runes, got %d", ErrorMessageLimit, n)
	}
	if !utf8.ValidString(got) {
		t.Fatal("truncated text is not valid UTF-8")
	}
}
