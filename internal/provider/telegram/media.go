package telegram

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"
	"github.com/google/uuid"

	. "github.com/roelfdiedericks/clawdis/internal/logging"
	"github.com/roelfdiedericks/clawdis/internal/mediastore"
	"github.com/roelfdiedericks/clawdis/internal/provider"
)

// downloadMedia categorises a message's media and downloads it to the
// provider's temp directory, degrading to an attachment-only-error
// result on any failure rather than dropping the whole inbound message
// (spec §4.4: "Media download failures degrade gracefully").
func (p *Provider) downloadMedia(ctx context.Context, api *tg.Client, store *mediastore.Store, media tg.MessageMediaClass) provider.InboundAttachment {
	category, location, mimeType, ext, err := classifyMedia(media)
	if err != nil {
		return provider.InboundAttachment{Category: "document", Error: err.Error()}
	}
	if store == nil {
		return provider.InboundAttachment{Category: category, Error: "telegram: media store unavailable"}
	}

	name := "telegram-dl-" + uuid.New().String() + ext
	path := filepath.Join(store.Dir(), name)

	d := downloader.NewDownloader()
	if _, err := d.Download(api, location).ToPath(ctx, path); err != nil {
		L_error("telegram: media download failed", "category", category, "error", err)
		return provider.InboundAttachment{Category: category, Error: err.Error()}
	}

	if mimeType == "" {
		if detected, err := mediastore.DetectMIMEFile(path); err == nil {
			mimeType = detected
		}
	}
	return provider.InboundAttachment{Category: category, Path: path, MimeType: mimeType}
}

// classifyMedia maps MTProto's media variants onto the category
// vocabulary and a downloadable file location (spec §4.4: "photos →
// image, documents with a voice attribute → voice, with a video
// attribute → video, with an audio attribute → audio, with a filename
// attribute or none → document").
func classifyMedia(media tg.MessageMediaClass) (category string, loc tg.InputFileLocationClass, mimeType, ext string, err error) {
	switch m := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := m.Photo.(*tg.Photo)
		if !ok {
			return "", nil, "", "", fmt.Errorf("telegram: photo unavailable (expired or deleted)")
		}
		size := largestPhotoSize(photo)
		if size == "" {
			return "", nil, "", "", fmt.Errorf("telegram: photo has no usable size")
		}
		return "image", &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     size,
		}, "image/jpeg", ".jpg", nil

	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return "", nil, "", "", fmt.Errorf("telegram: document unavailable (expired or deleted)")
		}
		cat, ext := classifyDocument(doc)
		return cat, &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		}, doc.MimeType, ext, nil

	default:
		return "", nil, "", "", fmt.Errorf("telegram: unsupported media type %T", media)
	}
}

func largestPhotoSize(photo *tg.Photo) string {
	var best string
	var bestArea int
	for _, s := range photo.Sizes {
		switch sz := s.(type) {
		case *tg.PhotoSize:
			if area := sz.W * sz.H; area > bestArea {
				bestArea, best = area, sz.Type
			}
		case *tg.PhotoSizeProgressive:
			if area := sz.W * sz.H; area > bestArea {
				bestArea, best = area, sz.Type
			}
		}
	}
	return best
}

func classifyDocument(doc *tg.Document) (category, ext string) {
	category = "document"
	filename := ""
	for _, attr := range doc.Attributes {
		switch a := attr.(type) {
		case *tg.DocumentAttributeAudio:
			if a.Voice {
				category = "voice"
			} else {
				category = "audio"
			}
		case *tg.DocumentAttributeVideo:
			if category == "document" {
				category = "video"
			}
		case *tg.DocumentAttributeFilename:
			filename = a.FileName
		}
	}
	if filename != "" {
		if i := strings.LastIndex(filename, "."); i >= 0 {
			ext = filename[i:]
		}
	}
	if ext == "" {
		ext = extForMime(doc.MimeType)
	}
	return category, ext
}

func extForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "audio/ogg":
		return ".ogg"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}
