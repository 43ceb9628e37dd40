package media

import (
	"encoding/base64"
	"image"
	"strings"

	"visible-relay/internal/domain/entity"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultMIMEType is assumed when neither the payload nor the caller says otherwise.
const DefaultMIMEType = "image/jpeg"

// Detection records how the MIME type of an image was decided.
type Detection struct {
	Source string // "data_url", "sniffed", "declared" or "default"
	Width  int
	Height int
}

// Resolve turns a client payload into an inline image reference. A base64 data
// URL prefix is always stripped and its type kept when it is an image type.
// Otherwise the decoded header is sniffed, then
// the declared type is used, then DefaultMIMEType. Resolve never rejects a
// payload: content that is not an image is still forwarded upstream.
func Resolve(payload, declared string) (entity.ImageRef, Detection) {
	payload = strings.TrimSpace(payload)

	if mime, data, ok := splitDataURL(payload); ok {
		payload = data
		if strings.HasPrefix(mime, "image/") {
			det := Detection{Source: "data_url"}
			if cfg, _, err := decodeConfig(data); err == nil {
				det.Width, det.Height = cfg.Width, cfg.Height
			}
			return entity.ImageRef{MIMEType: mime, Data: data}, det
		}
	}

	if cfg, format, err := decodeConfig(payload); err == nil {
		return entity.ImageRef{MIMEType: "image/" + format, Data: payload},
			Detection{Source: "sniffed", Width: cfg.Width, Height: cfg.Height}
	}

	if declared = strings.TrimSpace(declared); declared != "" {
		return entity.ImageRef{MIMEType: strings.ToLower(declared), Data: payload}, Detection{Source: "declared"}
	}
	return entity.ImageRef{MIMEType: DefaultMIMEType, Data: payload}, Detection{Source: "default"}
}

// decodeConfig reads only as much of the payload as the image header needs.
func decodeConfig(payload string) (image.Config, string, error) {
	r := base64.NewDecoder(base64.StdEncoding, strings.NewReader(payload))
	return image.DecodeConfig(r)
}

// splitDataURL strips a base64 data URL prefix of any media type.
func splitDataURL(s string) (mime, data string, ok bool) {
	if !strings.HasPrefix(s, "data:") {
		return "", "", false
	}
	header, data, found := strings.Cut(s[len("data:"):], ",")
	if !found {
		return "", "", false
	}
	mime, enc, found := strings.Cut(header, ";")
	if !found || !strings.EqualFold(enc, "base64") {
		return "", "", false
	}
	return strings.ToLower(mime), data, true
}
