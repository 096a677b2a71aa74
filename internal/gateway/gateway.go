package gateway

import (
	"context"

	"github.com/acme/whatsapp-campaign/internal/domain"
)

// Receipt is the opaque success indicator returned by the bridge.
type Receipt struct {
	ProviderMessageID string
}

// Media carries raw binary content plus the declared filename for upload.
type Media struct {
	Content  []byte
	Filename string
	Caption  string
}

// Provider abstracts the remote WhatsApp bridge, one operation per payload
// kind. Calls are synchronous and blocking; the bridge's own retry and
// rate-limit behavior is opaque to this service.
type Provider interface {
	SendText(ctx context.Context, to, body string) (Receipt, error)
	SendImage(ctx context.Context, to string, media Media) (Receipt, error)
	SendVideo(ctx context.Context, to string, media Media) (Receipt, error)
	SendAudio(ctx context.Context, to string, media Media) (Receipt, error)
	SendFile(ctx context.Context, to string, media Media) (Receipt, error)
	SendLink(ctx context.Context, to, url, caption string) (Receipt, error)
	SendLocation(ctx context.Context, to string, latitude, longitude float64, name string) (Receipt, error)
	SendContact(ctx context.Context, to, contactName, contactPhone string) (Receipt, error)
	SendPoll(ctx context.Context, to, question string, options []string, maxAnswers int) (Receipt, error)

	// SessionConnected reports whether the given send-channel session is
	// currently paired and online.
	SessionConnected(ctx context.Context, sessionID string) (bool, error)
}

// Dispatch routes a rendered message to the provider operation matching the
// payload type. Payload validation runs first so a malformed campaign fails
// before any network call.
func Dispatch(ctx context.Context, provider Provider, to, body string, payload domain.Payload, media Media) (Receipt, error) {
	if err := payload.Validate(); err != nil {
		return Receipt{}, err
	}

	switch payload.Type {
	case domain.MessageTypeText:
		return provider.SendText(ctx, to, body)
	case domain.MessageTypeImage:
		media.Caption = body
		return provider.SendImage(ctx, to, media)
	case domain.MessageTypeVideo:
		media.Caption = body
		return provider.SendVideo(ctx, to, media)
	case domain.MessageTypeAudio:
		return provider.SendAudio(ctx, to, media)
	case domain.MessageTypeFile:
		media.Caption = body
		return provider.SendFile(ctx, to, media)
	case domain.MessageTypeLink:
		return provider.SendLink(ctx, to, payload.URL, body)
	case domain.MessageTypeLocation:
		return provider.SendLocation(ctx, to, payload.Latitude, payload.Longitude, payload.LocationName)
	case domain.MessageTypeContact:
		return provider.SendContact(ctx, to, payload.ContactName, payload.ContactPhone)
	case domain.MessageTypePoll:
		return provider.SendPoll(ctx, to, payload.PollQuestion, payload.PollOptions, payload.PollMaxAnswers)
	}
	// Validate rejects unknown types before we get here.
	return Receipt{}, nil
}
