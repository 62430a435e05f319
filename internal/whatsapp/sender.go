package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

// Sender abstracts the outbound side of a live session so the router can be
// exercised without a real WhatsApp connection.
type Sender interface {
	SendText(ctx context.Context, phone, text string) error
	SendMedia(ctx context.Context, phone, path, mimetype, caption string) error
	Download(ctx context.Context, msg *waE2E.Message) ([]byte, error)
}

// clientSender implements Sender over a whatsmeow client.
type clientSender struct {
	cli *whatsmeow.Client
}

func contactJID(phone string) types.JID {
	return types.JID{
		User:   strings.TrimPrefix(phone, "+"),
		Server: types.DefaultUserServer,
	}
}

func (s *clientSender) SendText(ctx context.Context, phone, text string) error {
	_, err := s.cli.SendMessage(ctx, contactJID(phone), &waE2E.Message{
		Conversation: proto.String(text),
	})
	return err
}

func (s *clientSender) SendMedia(ctx context.Context, phone, path, mimetype, caption string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read media file: %w", err)
	}

	// Images get an image bubble; everything else goes out as a document
	mediaType := whatsmeow.MediaDocument
	if strings.HasPrefix(mimetype, "image/") {
		mediaType = whatsmeow.MediaImage
	}

	upload, err := s.cli.Upload(ctx, data, mediaType)
	if err != nil {
		return fmt.Errorf("failed to upload media: %w", err)
	}

	msg := &waE2E.Message{}
	switch mediaType {
	case whatsmeow.MediaImage:
		msg.ImageMessage = &waE2E.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimetype),
			URL:           &upload.URL,
			DirectPath:    &upload.DirectPath,
			MediaKey:      upload.MediaKey,
			FileEncSHA256: upload.FileEncSHA256,
			FileSHA256:    upload.FileSHA256,
			FileLength:    &upload.FileLength,
		}
	default:
		msg.DocumentMessage = &waE2E.DocumentMessage{
			Title:         proto.String(filepath.Base(path)),
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimetype),
			URL:           &upload.URL,
			DirectPath:    &upload.DirectPath,
			MediaKey:      upload.MediaKey,
			FileEncSHA256: upload.FileEncSHA256,
			FileSHA256:    upload.FileSHA256,
			FileLength:    &upload.FileLength,
		}
	}

	_, err = s.cli.SendMessage(ctx, contactJID(phone), msg)
	return err
}

func (s *clientSender) Download(ctx context.Context, msg *waE2E.Message) ([]byte, error) {
	return s.cli.DownloadAny(ctx, msg)
}
