package domain

import (
	"fmt"

	apperrors "github.com/acme/whatsapp-campaign/pkg/errors"
)

// MessageType tags the campaign payload shape.
type MessageType string

const (
	MessageTypeText     MessageType = "text"
	MessageTypeImage    MessageType = "image"
	MessageTypeVideo    MessageType = "video"
	MessageTypeAudio    MessageType = "audio"
	MessageTypeFile     MessageType = "file"
	MessageTypeLink     MessageType = "link"
	MessageTypeLocation MessageType = "location"
	MessageTypeContact  MessageType = "contact"
	MessageTypePoll     MessageType = "poll"
)

// Payload carries the type-specific content of a campaign. Body doubles as
// the caption template for media kinds and the message template for text.
type Payload struct {
	Type           MessageType
	Body           string
	MediaPath      string
	Filename       string
	URL            string
	Latitude       float64
	Longitude      float64
	LocationName   string
	ContactName    string
	ContactPhone   string
	PollQuestion   string
	PollOptions    []string
	PollMaxAnswers int
}

// Validate checks the required fields for the payload's type. It runs before
// any network call so a malformed campaign fails without reaching the bridge.
func (p Payload) Validate() error {
	switch p.Type {
	case MessageTypeText:
		if p.Body == "" {
			return fmt.Errorf("%w: text payload requires a body", apperrors.ErrValidation)
		}
	case MessageTypeImage, MessageTypeVideo, MessageTypeAudio:
		if p.MediaPath == "" {
			return fmt.Errorf("%w: %s payload requires a media path", apperrors.ErrValidation, p.Type)
		}
	case MessageTypeFile:
		if p.MediaPath == "" {
			return fmt.Errorf("%w: file payload requires a media path", apperrors.ErrValidation)
		}
		if p.Filename == "" {
			return fmt.Errorf("%w: file payload requires a filename", apperrors.ErrValidation)
		}
	case MessageTypeLink:
		if p.URL == "" {
			return fmt.Errorf("%w: link payload requires a url", apperrors.ErrValidation)
		}
	case MessageTypeLocation:
		if p.Latitude == 0 && p.Longitude == 0 {
			return fmt.Errorf("%w: location payload requires coordinates", apperrors.ErrValidation)
		}
	case MessageTypeContact:
		if p.ContactName == "" || p.ContactPhone == "" {
			return fmt.Errorf("%w: contact payload requires name and phone", apperrors.ErrValidation)
		}
	case MessageTypePoll:
		if p.PollQuestion == "" {
			return fmt.Errorf("%w: poll payload requires a question", apperrors.ErrValidation)
		}
		if len(p.PollOptions) < 2 {
			return fmt.Errorf("%w: poll payload requires at least two options", apperrors.ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown message type %q", apperrors.ErrValidation, p.Type)
	}
	return nil
}
