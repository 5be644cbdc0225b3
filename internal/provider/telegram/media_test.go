package telegram

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestClassifyDocument(t *testing.T) {
	cases := []struct {
		name     string
		doc      *tg.Document
		wantCat  string
		wantExt  string
	}{
		{
			name:    "voice note",
			doc:     &tg.Document{MimeType: "audio/ogg", Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: true}}},
			wantCat: "voice",
			wantExt: ".ogg",
		},
		{
			name:    "audio file",
			doc:     &tg.Document{MimeType: "audio/mpeg", Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeAudio{Voice: false}}},
			wantCat: "audio",
			wantExt: ".bin",
		},
		{
			name:    "video",
			doc:     &tg.Document{MimeType: "video/mp4", Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeVideo{}}},
			wantCat: "video",
			wantExt: ".mp4",
		},
		{
			name:    "named document",
			doc:     &tg.Document{MimeType: "application/pdf", Attributes: []tg.DocumentAttributeClass{&tg.DocumentAttributeFilename{FileName: "report.pdf"}}},
			wantCat: "document",
			wantExt: ".pdf",
		},
		{
			name:    "bare document no attributes",
			doc:     &tg.Document{MimeType: "application/octet-stream"},
			wantCat: "document",
			wantExt: ".bin",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cat, ext := classifyDocument(tc.doc)
			if cat != tc.wantCat {
				t.Errorf("category = %q, want %q", cat, tc.wantCat)
			}
			if ext != tc.wantExt {
				t.Errorf("ext = %q, want %q", ext, tc.wantExt)
			}
		})
	}
}

func TestLargestPhotoSize(t *testing.T) {
	photo := &tg.Photo{
		Sizes: []tg.PhotoSizeClass{
			&tg.PhotoSize{Type: "s", W: 90, H: 90},
			&tg.PhotoSize{Type: "m", W: 320, H: 320},
			&tg.PhotoSize{Type: "x", W: 1280, H: 1280},
		},
	}
	if got := largestPhotoSize(photo); got != "x" {
		t.Errorf("largestPhotoSize() = %q, want %q", got, "x")
	}
}
