package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/vincent-petithory/dataurl"
)

// MIMEMpeg is the declared type of question audio sent by the evaluation service
const MIMEMpeg = "audio/mpeg"

// ErrEmptyAsset is returned when a question arrives without audio bytes
var ErrEmptyAsset = errors.New("audio asset is empty")

// Asset is a playable audio resource with its declared MIME type
type Asset struct {
	MIMEType string
	Data     []byte
}

// AssetFromBase64 decodes the service's base64 audio field into an
// audio/mpeg asset.
func AssetFromBase64(encoded string) (Asset, error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		return Asset{}, ErrEmptyAsset
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Asset{}, fmt.Errorf("decode question audio: %w", err)
	}
	if len(data) == 0 {
		return Asset{}, ErrEmptyAsset
	}
	return Asset{MIMEType: MIMEMpeg, Data: data}, nil
}

// ParseDataURI decodes a data URI such as "data:audio/mpeg;base64,..."
func ParseDataURI(uri string) (Asset, error) {
	du, err := dataurl.DecodeString(uri)
	if err != nil {
		return Asset{}, fmt.Errorf("parse data uri: %w", err)
	}
	if len(du.Data) == 0 {
		return Asset{}, ErrEmptyAsset
	}
	return Asset{
		MIMEType: du.MediaType.ContentType(),
		Data:     du.Data,
	}, nil
}

// DataURI renders the asset as a base64 data URI
func (a Asset) DataURI() string {
	mime := a.MIMEType
	if mime == "" {
		mime = MIMEMpeg
	}
	return dataurl.New(a.Data, mime).String()
}

// Empty reports whether the asset carries no audio
func (a Asset) Empty() bool {
	return len(a.Data) == 0
}
