package mediastore

import "github.com/gabriel-vasile/mimetype"

// DetectMIME returns the MIME type from magic bytes rather than extension.
func DetectMIME(data []byte) string {
	return mimetype.Detect(data).String()
}

// DetectMIMEFile returns the MIME type of a file on disk from magic bytes.
func DetectMIMEFile(path string) (string, error) {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mt.String(), nil
}
