package whatsapp

import (
	"context"
	"fmt"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"

	"github.com/waygate/bridge/internal/lifecycle"
)

// SendText delivers a plain text message and returns its message ID.
func (s *Session) SendText(ctx context.Context, address, text string) (string, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}

	resp, err := s.client.SendMessage(ctx, jid, &waE2E.Message{
		Conversation: proto.String(text),
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// SendMedia uploads the payload to the WhatsApp media server and sends
// a message referencing it. The message kind follows the MIME type.
func (s *Session) SendMedia(ctx context.Context, address, caption string, media lifecycle.Media) (string, error) {
	jid, err := types.ParseJID(address)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}

	kind := MediaKind(media.MimeType)
	uploaded, err := s.client.Upload(ctx, media.Data, kind)
	if err != nil {
		return "", fmt.Errorf("upload media: %w", err)
	}

	resp, err := s.client.SendMessage(ctx, jid, buildMediaMessage(kind, uploaded, media, caption))
	if err != nil {
		return "", err
	}

	s.logger.Debug("media message sent",
		zap.String("mime_type", media.MimeType),
		zap.Int("size", len(media.Data)))
	return resp.ID, nil
}

// Groups enumerates joined group chats as normalized summaries.
func (s *Session) Groups(ctx context.Context) ([]lifecycle.Group, error) {
	groups, err := s.client.GetJoinedGroups(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]lifecycle.Group, 0, len(groups))
	for _, g := range groups {
		out = append(out, lifecycle.Group{
			JID:          g.JID.String(),
			Name:         g.Name,
			Participants: len(g.Participants),
		})
	}
	return out, nil
}

// MediaKind maps a MIME type to the whatsmeow upload kind: images go as
// image messages, mp4 as video, mp3/ogg as audio, everything else as a
// document.
func MediaKind(mimeType string) whatsmeow.MediaType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return whatsmeow.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		return whatsmeow.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return whatsmeow.MediaAudio
	default:
		return whatsmeow.MediaDocument
	}
}

func buildMediaMessage(kind whatsmeow.MediaType, up whatsmeow.UploadResponse, media lifecycle.Media, caption string) *waE2E.Message {
	switch kind {
	case whatsmeow.MediaImage:
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.MimeType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	case whatsmeow.MediaVideo:
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.MimeType),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	case whatsmeow.MediaAudio:
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.MimeType),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	default:
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			Mimetype:      proto.String(media.MimeType),
			Title:         proto.String(media.FileName),
			FileName:      proto.String(media.FileName),
			Caption:       proto.String(caption),
			FileLength:    proto.Uint64(up.FileLength),
			FileSHA256:    up.FileSHA256,
			FileEncSHA256: up.FileEncSHA256,
			MediaKey:      up.MediaKey,
		}}
	}
}
